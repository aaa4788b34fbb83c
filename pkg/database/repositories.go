// Copyright 2025 Certen Protocol
//
// Repositories - convenience wrapper for all database repositories.
// Provides a single point of access to all repository types.

package database

// Repositories holds all repository instances.
type Repositories struct {
	Apps     *AppRepository
	Tasks    *TaskRepository
	Profiles *ProfileRepository
}

// NewRepositories creates all repositories with the given client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Apps:     NewAppRepository(client),
		Tasks:    NewTaskRepository(client),
		Profiles: NewProfileRepository(client),
	}
}
