package transport

import (
	"encoding/json"
	"testing"
)

func TestNewEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeAddPlant, "device-1", AddPlantRequest{PlantID: 7, DesiredMoisture: 60})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal envelope failed: %v", err)
	}
	if decoded.Type != TypeAddPlant || decoded.DeviceID != "device-1" {
		t.Errorf("unexpected envelope after round trip: %+v", decoded)
	}

	var req AddPlantRequest
	if err := json.Unmarshal(decoded.Data, &req); err != nil {
		t.Fatalf("unmarshal payload failed: %v", err)
	}
	if req.PlantID != 7 || req.DesiredMoisture != 60 {
		t.Errorf("unexpected payload after round trip: %+v", req)
	}
}

// TestGardenSyncPlantFieldAliases locks in the mixed camelCase/snake_case
// wire shape from the garden_sync example payload, since the cloud side
// already depends on these exact keys.
func TestGardenSyncPlantFieldAliases(t *testing.T) {
	raw := []byte(`{
		"plant_id": 4,
		"desiredMoisture": 55.0,
		"waterLimit": 1.5,
		"dripperType": "2L/h",
		"sensor_port": "/dev/ttyUSB1",
		"valve_id": 2
	}`)

	var gp GardenSyncPlant
	if err := json.Unmarshal(raw, &gp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if gp.PlantID != 4 || gp.DesiredMoisture != 55.0 || gp.WaterLimit != 1.5 ||
		gp.DripperType != "2L/h" || gp.SensorPort != "/dev/ttyUSB1" || gp.ValveID != 2 {
		t.Errorf("field aliasing broke the garden_sync wire shape: %+v", gp)
	}
}
