package domain

// ChatMessage es lo que recibe el destinatario y el eco que recibe el remitente.
type ChatMessage struct {
	Alias   string `json:"alias"`
	DID     string `json:"did"`
	Message string `json:"message"`
}
