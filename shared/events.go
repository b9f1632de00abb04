package shared

import (
	"strings"
	"time"
)

// EventTimeLayout is the local wall-clock layout used by camera events.
const EventTimeLayout = "2006-01-02 15:04:05"

type ExitEvent struct {
	MessageId          string  `json:"message_id"`
	EventType          string  `json:"event_type"`
	Action             string  `json:"action"`
	Status             string  `json:"status"`
	ExitPlateNumber    string  `json:"exit_plate_number"`
	ExitTime           string  `json:"exit_time"`
	ExitCameraIp       string  `json:"exit_camera_ip"`
	ExitCameraId       int     `json:"exit_camera_id"`
	ExitCameraName     string  `json:"exit_camera_name"`
	ExitEventId        int     `json:"exit_event_id"`
	ExitDetectionCount int     `json:"exit_detection_count"`
	ExitWeight         float64 `json:"exit_weight"`
	ExitSnapshot       string  `json:"exit_snapshot"`
	Timestamp          string  `json:"timestamp"`
}

// NewTestExit returns the exit event fired by the gate test camera.
// exit_time and timestamp are read from now separately.
func NewTestExit(messageId, plate string, now func() time.Time) ExitEvent {
	return ExitEvent{
		MessageId:          messageId,
		EventType:          "exit",
		Action:             "exit_normal",
		Status:             "exited",
		ExitPlateNumber:    plate,
		ExitTime:           FormatEventTime(now()),
		ExitCameraIp:       "192.168.1.101",
		ExitCameraId:       2,
		ExitCameraName:     "测试出口",
		ExitEventId:        2001,
		ExitDetectionCount: 6,
		ExitWeight:         28.30,
		ExitSnapshot:       "test_exit.jpg",
		Timestamp:          FormatEventTime(now()),
	}
}

func FormatEventTime(t time.Time) string {
	return t.Local().Format(EventTimeLayout)
}

func ParseEventTime(s string) (time.Time, error) {
	return time.ParseInLocation(EventTimeLayout, s, time.Local)
}

// VehicleEvent holds the fields of an entry or exit message that identify
// the vehicle and direction.
type VehicleEvent struct {
	EventType        string `json:"event_type"`
	EntryPlateNumber string `json:"entry_plate_number"`
	ExitPlateNumber  string `json:"exit_plate_number"`
	Timestamp        string `json:"timestamp"`
}

func (e VehicleEvent) Plate() string {
	if e.ExitPlateNumber != "" {
		return e.ExitPlateNumber
	}
	return e.EntryPlateNumber
}

// NormalizePlate strips separators so "ABC-123" and "ABC123" compare equal.
func NormalizePlate(plate string) string {
	return strings.ReplaceAll(plate, "-", "")
}
