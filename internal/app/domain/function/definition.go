package function

import "time"

// Definition is a stored JavaScript function owned by a platform tenant.
// Source must define a main(args) entry point. SecretNames lists the secret
// identifiers the function may read at execution time; the service resolves
// them to sealed blobs before handing the code to the sandbox.
type Definition struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source"`
	SecretNames []string  `json:"secret_names,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
