package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itf-gmbh/phone-agent/internal/clock"
)

// MemoryCalendar is an in-process Calendar used in development and tests.
// Production deployments plug a PVS or Google Calendar adapter into the
// same interface.
type MemoryCalendar struct {
	mu           sync.Mutex
	clk          clock.Clock
	slots        map[uuid.UUID]*Slot
	appointments map[uuid.UUID]*Appointment
}

func NewMemoryCalendar(clk clock.Clock) *MemoryCalendar {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryCalendar{
		clk:          clk,
		slots:        make(map[uuid.UUID]*Slot),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

// AddSlot registers a bookable slot.
func (c *MemoryCalendar) AddSlot(slot Slot) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	if slot.Status == "" {
		slot.Status = SlotAvailable
	}
	copied := slot
	c.slots[slot.ID] = &copied
	return slot.ID
}

// SeedWeekdays fills two weeks of 15-minute slots for the given providers,
// mornings 8-12 and afternoons 14-18, weekdays only.
func (c *MemoryCalendar) SeedWeekdays(providers map[string]string) {
	today := c.clk.Now()
	for offset := 0; offset < 14; offset++ {
		day := today.AddDate(0, 0, offset)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		for id, name := range providers {
			for _, window := range [][2]int{{8, 12}, {14, 18}} {
				for hour := window[0]; hour < window[1]; hour++ {
					for _, minute := range []int{0, 15, 30, 45} {
						start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
						c.AddSlot(Slot{
							Start:        start,
							End:          start.Add(15 * time.Minute),
							ProviderID:   id,
							ProviderName: name,
							Type:         Regular,
						})
					}
				}
			}
		}
	}
}

func (c *MemoryCalendar) GetAvailableSlots(_ context.Context, start, end time.Time, providerID string, _ AppointmentType) ([]Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	var out []Slot
	for _, slot := range c.slots {
		if slot.Status != SlotAvailable {
			continue
		}
		if slot.Start.Before(start) || slot.Start.After(end) {
			continue
		}
		if providerID != "" && slot.ProviderID != providerID {
			continue
		}
		if !slot.Start.After(now) {
			continue
		}
		out = append(out, *slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (c *MemoryCalendar) BookSlot(_ context.Context, slotID uuid.UUID, patient Patient, reason string, apptType AppointmentType) (*Appointment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.slots[slotID]
	if !ok {
		return nil, fmt.Errorf("scheduling: book slot %s: %w", slotID, ErrNotFound)
	}
	if slot.Status != SlotAvailable {
		return nil, fmt.Errorf("scheduling: book slot %s: %w", slotID, ErrSlotUnavailable)
	}
	slot.Status = SlotBooked
	appt := &Appointment{
		ID:          uuid.New(),
		PatientID:   patient.ID,
		PatientName: patient.FullName(),
		Slot:        *slot,
		Reason:      reason,
		Type:        apptType,
		CreatedAt:   c.clk.Now(),
		CreatedBy:   "phone_agent",
	}
	c.appointments[appt.ID] = appt
	return appt, nil
}

func (c *MemoryCalendar) CancelAppointment(_ context.Context, appointmentID uuid.UUID, reason string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	appt, ok := c.appointments[appointmentID]
	if !ok {
		return false, nil
	}
	if slot, ok := c.slots[appt.Slot.ID]; ok {
		slot.Status = SlotAvailable
	}
	appt.Notes = "Storniert: " + reason
	delete(c.appointments, appointmentID)
	return true, nil
}

func (c *MemoryCalendar) RescheduleAppointment(_ context.Context, appointmentID, newSlotID uuid.UUID) (*Appointment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.appointments[appointmentID]
	if !ok {
		return nil, fmt.Errorf("scheduling: reschedule %s: %w", appointmentID, ErrNotFound)
	}
	newSlot, ok := c.slots[newSlotID]
	if !ok {
		return nil, fmt.Errorf("scheduling: reschedule to %s: %w", newSlotID, ErrNotFound)
	}
	if newSlot.Status != SlotAvailable {
		return nil, fmt.Errorf("scheduling: reschedule to %s: %w", newSlotID, ErrSlotUnavailable)
	}
	if oldSlot, ok := c.slots[old.Slot.ID]; ok {
		oldSlot.Status = SlotAvailable
	}
	newSlot.Status = SlotBooked
	appt := &Appointment{
		ID:           uuid.New(),
		PatientID:    old.PatientID,
		PatientName:  old.PatientName,
		Slot:         *newSlot,
		Reason:       old.Reason,
		Type:         old.Type,
		UrgencyLevel: old.UrgencyLevel,
		CreatedAt:    c.clk.Now(),
		CreatedBy:    "phone_agent",
		Notes:        "Umgebucht von " + old.Slot.Start.Format("02.01.2006 15:04"),
	}
	delete(c.appointments, appointmentID)
	c.appointments[appt.ID] = appt
	return appt, nil
}

// Appointment returns a booked appointment by id, for workflow lookups.
func (c *MemoryCalendar) Appointment(id uuid.UUID) (*Appointment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	appt, ok := c.appointments[id]
	if !ok {
		return nil, false
	}
	copied := *appt
	return &copied, true
}
