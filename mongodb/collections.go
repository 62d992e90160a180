package mongodb

const (
	UsersCollection               = "users"
	FederatedIdentitiesCollection = "federated_identities"
	TasksCollection               = "automation_tasks"
)
