package domain

import "time"

// Session es el registro efimero de un dispositivo conectado.
type Session struct {
	ID        string    `json:"did"`
	Channel   string    `json:"channel"`
	Alias     string    `json:"alias"`
	Groups    []string  `json:"groups"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasAlias indica si el dispositivo ya completo su configuracion.
func (s Session) HasAlias() bool {
	return s.Alias != ""
}

// Expired reporta si el TTL de la sesion ya vencio en now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionData es la forma en que la sesion viaja dentro de un Envelope.
type SessionData struct {
	DID       string   `json:"did"`
	Channel   string   `json:"channel"`
	Alias     *string  `json:"alias"`
	TTL       int64    `json:"ttl"`
	CreatedAt int64    `json:"created_at"`
	Groups    []string `json:"groups"`
}

// Data proyecta la sesion al payload del wire. alias viaja como null si no existe.
func (s Session) Data() SessionData {
	data := SessionData{
		DID:       s.ID,
		Channel:   s.Channel,
		TTL:       s.ExpiresAt.Unix(),
		CreatedAt: s.CreatedAt.Unix(),
		Groups:    s.Groups,
	}
	if data.Groups == nil {
		data.Groups = []string{}
	}
	if s.Alias != "" {
		alias := s.Alias
		data.Alias = &alias
	}
	return data
}
