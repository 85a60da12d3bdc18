package user

import "context"

// User is the buyer record referenced by orders.
type User struct {
	ID    string
	Email string
	Name  string
}

// Repository persists buyers.
type Repository interface {
	// Ensure creates the user if absent and refreshes email and name otherwise.
	Ensure(ctx context.Context, u User) error
}
