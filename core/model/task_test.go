package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskValidate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		source  NodeID
		dest    NodeID
		wantErr bool
	}{
		{"valid", 1, 9, false},
		{"source out of range", 0, 9, true},
		{"destination out of range", 1, 10, true},
		{"negative source", -3, 5, true},
		{"equal endpoints", 4, 4, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := NewTask(tc.source, tc.dest, 5, PriorityMedium, now)
			err := task.Validate(9)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTaskSpec)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewTask(t *testing.T) {
	now := time.Now()
	a := NewTask(1, 2, 5, PriorityHigh, now)
	b := NewTask(1, 2, 5, PriorityHigh, now)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, TaskPending, a.Status)
	assert.Equal(t, now, a.CreatedAt)
}

func TestTaskExecutionTime(t *testing.T) {
	now := time.Now()
	task := NewTask(1, 2, 5, PriorityLow, now)
	assert.Zero(t, task.ExecutionTime())
	task.StartedAt = now
	task.CompletedAt = now.Add(30 * time.Second)
	assert.Equal(t, 30*time.Second, task.ExecutionTime())
}

func TestPriorityRank(t *testing.T) {
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Equal(t, PriorityLow.Rank(), Priority("bogus").Rank())
}

func TestVehicleBattery(t *testing.T) {
	v := Vehicle{ID: 1, Battery: 5}
	v.Drain(8)
	assert.Equal(t, 0, v.Battery)

	v.Battery = 95
	assert.False(t, v.Charge(3))
	assert.Equal(t, 98, v.Battery)
	assert.True(t, v.Charge(20))
	assert.Equal(t, 100, v.Battery)
}

func TestVehicleDispatchable(t *testing.T) {
	v := Vehicle{ID: 1, Status: VehicleIdle, Battery: 50}
	assert.True(t, v.Dispatchable(30))
	v.Battery = 30
	assert.False(t, v.Dispatchable(30), "threshold is inclusive")
	v.Battery = 80
	v.Status = VehicleCharging
	assert.False(t, v.Dispatchable(30))
}
