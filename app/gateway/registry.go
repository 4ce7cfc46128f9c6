package gateway

import "errors"

var ErrClientNotRegistered = errors.New("no client registered for gateway code")

// Registry maps gateway codes to client adapters. Clients are registered once
// at startup and selected by map lookup, never by dynamic dispatch.
type Registry struct {
	clients map[string]Client
}

func NewRegistry(clients ...Client) *Registry {
	items := make(map[string]Client, len(clients))
	for _, c := range clients {
		items[c.Code()] = c
	}
	return &Registry{clients: items}
}

func (r *Registry) Get(code string) (Client, error) {
	client, ok := r.clients[code]
	if !ok {
		return nil, ErrClientNotRegistered
	}
	return client, nil
}
