package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"sneaky-linq/internal/domain"
)

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	serverURL := envOrDefault("LINQ_SERVER_URL", "ws://localhost:8080")
	deviceID := envOrDefault("LINQ_DEVICE_ID", uuid.NewString())

	for {
		fmt.Println("===== sneaky linq =====")
		fmt.Printf("Dispositivo: %s\n", deviceID)
		fmt.Println("[1] Conectar dispositivo (mostrar codigo QR)")
		fmt.Println("[2] Escanear otro dispositivo")
		fmt.Println("[3] Chatear")
		fmt.Println("[4] Salir")
		fmt.Print("Selecciona una opcion: ")

		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		var err error
		switch line {
		case "1":
			err = connectFlow(ctx, reader, serverURL, deviceID)
		case "2":
			err = scanFlow(ctx, reader, serverURL)
		case "3":
			err = chatFlow(ctx, reader, serverURL, deviceID)
		case "4":
			os.Exit(0)
		default:
			fmt.Println("Opcion invalida.")
		}
		if err != nil {
			logger.Warn("flow failed", zap.String("option", line), zap.Error(err))
		}
	}
}

// connectFlow registra el dispositivo y permite fijar el alias desde la misma conexion.
func connectFlow(ctx context.Context, reader *bufio.Reader, serverURL, deviceID string) error {
	conn, err := dial(ctx, serverURL+"/ws/connect/", deviceID)
	if err != nil {
		return fmt.Errorf("conectar: %w", err)
	}
	defer conn.Close()

	first, err := readEnvelope(conn)
	if err != nil {
		return err
	}
	printEnvelope(first)
	if !first.Status {
		return nil
	}
	fmt.Printf("Codigo QR: %s\n", deviceID)

	done := printIncoming(conn)
	fmt.Println("---- Escribe un alias o 'salir' para volver ----")
	return inputLoop(reader, done, func(text string) error {
		return conn.WriteJSON(map[string]string{"alias": text})
	})
}

// scanFlow actua como escaner: fija el alias del dispositivo cuyo codigo se ingresa.
func scanFlow(ctx context.Context, reader *bufio.Reader, serverURL string) error {
	fmt.Print("Codigo QR del dispositivo: ")
	target, _ := reader.ReadString('\n')
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.New("codigo vacio")
	}

	conn, err := dial(ctx, serverURL+"/ws/scan/connect/"+url.PathEscape(target)+"/", "")
	if err != nil {
		return fmt.Errorf("escanear: %w", err)
	}
	defer conn.Close()

	first, err := readEnvelope(conn)
	if err != nil {
		return err
	}
	printEnvelope(first)
	if !first.Status {
		return nil
	}

	for {
		fmt.Print("Alias para el dispositivo: ")
		alias, _ := reader.ReadString('\n')
		if err := conn.WriteJSON(map[string]string{"alias": strings.TrimSpace(alias)}); err != nil {
			return err
		}
		reply, err := readEnvelope(conn)
		if err != nil {
			return err
		}
		printEnvelope(reply)
		if reply.Status {
			return nil
		}
	}
}

// chatFlow abre la ruta p2p; cada linea tiene la forma "alias: mensaje".
func chatFlow(ctx context.Context, reader *bufio.Reader, serverURL, deviceID string) error {
	conn, err := dial(ctx, serverURL+"/ws/chat/p2p/", deviceID)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	defer conn.Close()

	first, err := readEnvelope(conn)
	if err != nil {
		return err
	}
	printEnvelope(first)
	if !first.Status {
		return nil
	}

	done := printIncoming(conn)
	fmt.Println("---- Modo Chat: 'alias.linq: mensaje', 'salir' para terminar ----")
	return inputLoop(reader, done, func(text string) error {
		to, message, ok := strings.Cut(text, ":")
		if !ok {
			fmt.Println("Formato invalido.")
			return nil
		}
		return conn.WriteJSON(map[string]string{
			"to":      strings.TrimSpace(to),
			"message": strings.TrimSpace(message),
		})
	})
}

func dial(ctx context.Context, rawURL, subprotocol string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if subprotocol != "" {
		dialer.Subprotocols = []string{subprotocol}
	}
	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	return conn, err
}

func readEnvelope(conn *websocket.Conn) (domain.Envelope, error) {
	var env domain.Envelope
	err := conn.ReadJSON(&env)
	return env, err
}

func printIncoming(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			env, err := readEnvelope(conn)
			if err != nil {
				return
			}
			printEnvelope(env)
		}
	}()
	return done
}

func inputLoop(reader *bufio.Reader, done <-chan struct{}, send func(text string) error) error {
	lines := make(chan string)
	go func() {
		for {
			text, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimSpace(text)
		}
	}()
	for {
		select {
		case <-done:
			fmt.Println("Conexion cerrada por el servidor.")
			return nil
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			if text == "" {
				continue
			}
			if strings.EqualFold(text, "salir") || strings.EqualFold(text, "exit") {
				return nil
			}
			if err := send(text); err != nil {
				return err
			}
		}
	}
}

func printEnvelope(env domain.Envelope) {
	status := "ok"
	if !env.Status {
		status = "error"
	}
	fmt.Printf("[%s] %s: %s\n", env.Event, status, env.Message)
	if env.Data != nil {
		data, _ := json.MarshalIndent(env.Data, "  ", "  ")
		fmt.Printf("  %s\n", data)
	}
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
