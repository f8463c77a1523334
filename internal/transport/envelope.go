// Package transport is the cloud-facing adapter: a persistent websocket
// carrying the JSON envelope of §6, decoded to typed commands and
// dispatched to the engine's command surface. It is a thin boundary, not
// part of the engine core: the engine imports it for the envelope and
// message types, and reaches the connection only through its own Sender
// interface.
package transport

import (
	"encoding/json"
	"fmt"
)

// MessageType is the `type` discriminator of the envelope.
type MessageType string

const (
	// Inbound, cloud -> engine.
	TypeWelcome           MessageType = "WELCOME"
	TypeAddPlant          MessageType = "ADD_PLANT"
	TypeUpdatePlant       MessageType = "UPDATE_PLANT"
	TypeRemovePlant       MessageType = "REMOVE_PLANT"
	TypeGetPlantMoisture  MessageType = "GET_PLANT_MOISTURE"
	TypeGetAllMoisture    MessageType = "GET_ALL_MOISTURE"
	TypeIrrigatePlant     MessageType = "IRRIGATE_PLANT"
	TypeStopIrrigation    MessageType = "STOP_IRRIGATION"
	TypeOpenValve         MessageType = "OPEN_VALVE"
	TypeCloseValve        MessageType = "CLOSE_VALVE"
	TypeRestartValve      MessageType = "RESTART_VALVE"
	TypeGetValveStatus    MessageType = "GET_VALVE_STATUS"
	TypeGardenSync        MessageType = "GARDEN_SYNC"

	// Outbound, engine -> cloud.
	TypeHelloPi                MessageType = "HELLO_PI"
	TypePiConnect               MessageType = "PI_CONNECT"
	TypeAddPlantResponse        MessageType = "ADD_PLANT_RESPONSE"
	TypeUpdatePlantResponse     MessageType = "UPDATE_PLANT_RESPONSE"
	TypeRemovePlantResponse     MessageType = "REMOVE_PLANT_RESPONSE"
	TypePlantMoistureResponse   MessageType = "PLANT_MOISTURE_RESPONSE"
	TypeAllMoistureResponse     MessageType = "ALL_MOISTURE_RESPONSE"
	TypeIrrigatePlantAccepted   MessageType = "IRRIGATE_PLANT_ACCEPTED"
	TypeIrrigatePlantResponse   MessageType = "IRRIGATE_PLANT_RESPONSE"
	TypeIrrigationStarted       MessageType = "IRRIGATION_STARTED"
	TypeIrrigationProgress      MessageType = "IRRIGATION_PROGRESS"
	TypeStopIrrigationResponse  MessageType = "STOP_IRRIGATION_RESPONSE"
	TypeOpenValveResponse       MessageType = "OPEN_VALVE_RESPONSE"
	TypeCloseValveResponse      MessageType = "CLOSE_VALVE_RESPONSE"
	TypeRestartValveResponse    MessageType = "RESTART_VALVE_RESPONSE"
	TypeValveStatusResponse     MessageType = "VALVE_STATUS_RESPONSE"
	TypeGardenSyncResponse      MessageType = "GARDEN_SYNC_RESPONSE"
)

// Envelope is the wire-level shape of every message in either direction:
// { "type": ..., "device_id": ..., "data": ... }.
type Envelope struct {
	Type     MessageType     `json:"type"`
	DeviceID string          `json:"device_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope's Data field.
func NewEnvelope(typ MessageType, deviceID string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &Envelope{Type: typ, DeviceID: deviceID, Data: raw}, nil
}

// Status is the per-response status field.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
	StatusPartial    Status = "partial"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)
