package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/round-cube/parking-gate/shared"
	log "github.com/sirupsen/logrus"
)

const autoMessageId = "auto"

type Settings struct {
	PublishURL          string
	PlateNumber         string
	MessageId           string
	HTTPRequestTimeoutS int
}

func main() {
	shared.InitLog()
	settings := loadSettings()

	err := run(settings, &http.Client{Timeout: time.Duration(settings.HTTPRequestTimeoutS) * time.Second}, os.Stdout)
	shared.PanicOnError(err, "failed to publish exit event")
}

func loadSettings() Settings {
	var s Settings
	s.PublishURL = shared.GetEnvDefault("PUBLISH_URL", "http://localhost:8080/mqtt/publish")
	// TEST-ID4 is a placeholder for the entry plate stored under record 4.
	s.PlateNumber = shared.GetEnvDefault("EXIT_PLATE_NUMBER", "TEST-ID4")
	s.MessageId = shared.GetEnvDefault("MESSAGE_ID", "test-exit-id4")
	s.HTTPRequestTimeoutS = shared.GetEnvInt("HTTP_REQUEST_TIMEOUT_S", 0)
	return s
}

func run(s Settings, client *http.Client, out io.Writer) error {
	messageId, err := resolveMessageId(s.MessageId)
	if err != nil {
		return fmt.Errorf("failed to generate message id: %w", err)
	}
	exit := shared.NewTestExit(messageId, s.PlateNumber, time.Now)

	resp, err := publishExit(client, s.PublishURL, exit)
	if err != nil {
		return err
	}
	return printExchange(out, exit, resp)
}

func resolveMessageId(id string) (string, error) {
	if id != autoMessageId {
		return id, nil
	}
	v7, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return "EXT:" + v7.String(), nil
}

// publishExit posts the event as the "message" form field and decodes the
// JSON reply.
func publishExit(client *http.Client, endpoint string, exit shared.ExitEvent) (map[string]any, error) {
	body, err := json.Marshal(exit)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal exit event: %w", err)
	}

	log.WithFields(log.Fields{
		"url":               endpoint,
		"message_id":        exit.MessageId,
		"exit_plate_number": exit.ExitPlateNumber,
	}).Debug("publishing exit")

	resp, err := client.PostForm(endpoint, url.Values{"message": {string(body)}})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("response status code %d", resp.StatusCode)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}

func printExchange(out io.Writer, exit shared.ExitEvent, resp map[string]any) error {
	var buf bytes.Buffer
	buf.WriteString("Sending exit message:\n")

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exit); err != nil {
		return err
	}

	respBytes, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	fmt.Fprintf(&buf, "\nResponse: %s\n", respBytes)

	_, err = out.Write(buf.Bytes())
	return err
}
