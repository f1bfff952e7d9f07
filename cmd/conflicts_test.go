package cmd

import (
	"testing"
	"time"

	"github.com/salonsync/salonsync/internal/models"
)

func TestMoveActionKeepsLength(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	create := models.CreateAppointment{
		AppointmentID: "a1",
		EmployeeID:    "e1",
		StartAt:       start,
		EndAt:         start.Add(45 * time.Minute),
	}

	to := start.Add(2 * time.Hour)
	moved, err := moveAction(create, to)
	if err != nil {
		t.Fatalf("move create: %v", err)
	}
	c := moved.(models.CreateAppointment)
	if !c.StartAt.Equal(to) || c.EndAt.Sub(c.StartAt) != 45*time.Minute {
		t.Errorf("moved create = %v-%v", c.StartAt, c.EndAt)
	}
	if c.AppointmentID != "a1" || c.EmployeeID != "e1" {
		t.Errorf("move changed identity: %+v", c)
	}
	if !create.StartAt.Equal(start) {
		t.Error("original action mutated")
	}

	end := start.Add(30 * time.Minute)
	update := models.UpdateAppointment{AppointmentID: "a1", StartAt: &start, EndAt: &end}
	moved, err = moveAction(update, to)
	if err != nil {
		t.Fatalf("move update: %v", err)
	}
	u := moved.(models.UpdateAppointment)
	if !u.StartAt.Equal(to) || u.EndAt.Sub(*u.StartAt) != 30*time.Minute {
		t.Errorf("moved update = %v-%v", *u.StartAt, *u.EndAt)
	}
	if !update.StartAt.Equal(start) {
		t.Error("original update start mutated")
	}
}

func TestMoveActionRejects(t *testing.T) {
	notes := "x"
	cases := []models.Action{
		models.CancelAppointment{AppointmentID: "a1"},
		models.UpdateAppointment{AppointmentID: "a1", Notes: &notes},
		nil,
	}
	for _, act := range cases {
		if _, err := moveAction(act, time.Now()); err == nil {
			t.Errorf("moveAction(%#v) should fail", act)
		}
	}
}
