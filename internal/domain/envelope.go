package domain

// Event identifica el tipo de respuesta enviada al cliente.
type Event string

const (
	EventDeviceConnect Event = "device.connect"
	EventDeviceSetup   Event = "device.setup"
	EventScanConnect   Event = "scan.connect"
	EventScanSetup     Event = "scan.setup"
	EventChatConnect   Event = "chat.connect"
	EventChatMessage   Event = "chat.message"
)

// Envelope es el contrato del wire: toda respuesta al cliente tiene esta forma.
type Envelope struct {
	Event   Event  `json:"event"`
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// OK construye un envelope exitoso.
func OK(event Event, message string, data any) Envelope {
	return Envelope{Event: event, Status: true, Message: message, Data: data}
}

// Fail construye un envelope de error.
func Fail(event Event, message string, data any) Envelope {
	return Envelope{Event: event, Status: false, Message: message, Data: data}
}

// AliasData acompania las respuestas de configuracion de alias.
type AliasData struct {
	Alias string `json:"alias"`
}
