package render

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/askwhyharsh/geotrack/pkg/logger"
)

const publishTimeout = 5 * time.Second

// MQTTClient is the part of mqtt.Client the view handle needs.
type MQTTClient interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

type viewCommand struct {
	Command int   `json:"command"`
	Args    []any `json:"args"`
}

// MQTTViewHandle drives a remote native map display. Commands are published
// to {prefix}/{viewID}/command and the display reports its callbacks on
// {prefix}/{viewID}/event using the bridge message format.
type MQTTViewHandle struct {
	client MQTTClient
	prefix string
	viewID string
}

func NewMQTTViewHandle(client MQTTClient, prefix, viewID string) *MQTTViewHandle {
	return &MQTTViewHandle{client: client, prefix: prefix, viewID: viewID}
}

func (h *MQTTViewHandle) CommandTopic() string {
	return fmt.Sprintf("%s/%s/command", h.prefix, h.viewID)
}

func (h *MQTTViewHandle) EventTopic() string {
	return fmt.Sprintf("%s/%s/event", h.prefix, h.viewID)
}

func (h *MQTTViewHandle) Valid() bool {
	return h.client.IsConnectionOpen()
}

func (h *MQTTViewHandle) Dispatch(command int, args []any) error {
	payload, err := json.Marshal(viewCommand{Command: command, Args: args})
	if err != nil {
		return err
	}

	token := h.client.Publish(h.CommandTopic(), 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", h.CommandTopic())
	}
	return token.Error()
}

// Attach subscribes to the display's event topic and forwards its callbacks
// to surface.
func (h *MQTTViewHandle) Attach(surface *NativeSurface, log logger.Logger) error {
	token := h.client.Subscribe(h.EventTopic(), 0, NativeEventHandler(surface, log))
	token.Wait()
	return token.Error()
}

// NativeEventHandler turns bridge formatted MQTT messages into native
// surface callbacks.
func NativeEventHandler(surface *NativeSurface, log logger.Logger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		ev, err := ParseMessage(msg.Payload())
		if err != nil {
			log.Debug("dropping native view event", "topic", msg.Topic(), "error", err)
			return
		}
		switch ev.Type {
		case EventReady:
			surface.EmitReady()
		case EventPermissionDenied:
			surface.EmitPermissionDenied()
		case EventLocationUnavailable:
			surface.EmitLocationUnavailable()
		case EventLocation:
			if err := surface.EmitLocation(ev.Coord.Latitude, ev.Coord.Longitude, ev.Accuracy, ev.Timestamp); err != nil {
				log.Debug("dropping native location", "error", err)
			}
		}
	}
}
