package entities

import "net/http"

// Kind names one of the four entity collections (§3.1).
type Kind string

const (
	User    Kind = "user"
	Team    Kind = "team"
	Project Kind = "project"
	Task    Kind = "task"
)

func (k Kind) collection() string {
	switch k {
	case User:
		return "users"
	case Team:
		return "teams"
	case Project:
		return "projects"
	case Task:
		return "tasks"
	default:
		return string(k) + "s"
	}
}

// Registry holds one Client per entity kind, sharing a base URL and HTTP
// client.
type Registry struct {
	clients map[Kind]*Client
}

// NewRegistry constructs a Registry over baseURL for all four kinds.
func NewRegistry(baseURL string, httpClient *http.Client) *Registry {
	r := &Registry{clients: make(map[Kind]*Client, 4)}
	for _, k := range []Kind{User, Team, Project, Task} {
		r.clients[k] = New(baseURL, k.collection(), httpClient)
	}
	return r
}

// For returns the Client for kind k.
func (r *Registry) For(k Kind) *Client { return r.clients[k] }
