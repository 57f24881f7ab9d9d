// Package present turns events into what the browser renders, through one
// code path keyed by the viewer's presentation variant.
package present

import (
	"time"

	"event-portal/models"

	"github.com/shopspring/decimal"
)

type Variant string

const (
	Admin    Variant = "admin"
	Standard Variant = "standard"
	Guest    Variant = "guest"
)

// VariantFor maps a role to a presentation variant. Unknown and empty roles
// are treated as guests.
func VariantFor(role models.Role) Variant {
	switch role {
	case models.RoleAdmin:
		return Admin
	case models.RoleUser:
		return Standard
	default:
		return Guest
	}
}

type Action string

const (
	ActionEdit    Action = "edit"
	ActionBook    Action = "book"
	ActionCancel  Action = "cancel"
	ActionSoldOut Action = "sold_out"
	ActionLogin   Action = "login"
)

const dateLayout = "Mon, 02 Jan 2006"

type Card struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Category       string   `json:"category"`
	Date           string   `json:"date"`
	Time           string   `json:"time,omitempty"`
	Location       string   `json:"location"`
	ImageURL       string   `json:"imageUrl,omitempty"`
	Organizer      string   `json:"organizer"`
	SeatsTotal     int      `json:"seatsTotal"`
	SeatsBooked    int      `json:"seatsBooked"`
	SeatsAvailable int      `json:"seatsAvailable"`
	Occupancy      string   `json:"occupancy"`
	SoldOut        bool     `json:"soldOut"`
	Booked         bool     `json:"booked"`
	Action         Action   `json:"action"`
	ReadOnly       bool     `json:"readOnly"`
	Attendees      []string `json:"attendees,omitempty"`
	Variant        Variant  `json:"variant"`
}

// Viewer is who a card is rendered for.
type Viewer struct {
	Variant Variant
	UserID  string
}

func Render(e models.Event, v Viewer) Card {
	c := Card{
		ID:             e.ID,
		Title:          e.Title,
		Description:    e.Description,
		Category:       e.Category,
		Time:           e.Time,
		Location:       e.Location,
		ImageURL:       e.ImageURL,
		Organizer:      e.Organizer.Name(),
		SeatsTotal:     e.SeatsTotal,
		SeatsBooked:    e.BookedSeats(),
		SeatsAvailable: e.SeatsAvailable(),
		Occupancy:      Occupancy(e).StringFixed(1),
		SoldOut:        e.SoldOut(),
		Variant:        v.Variant,
	}
	if !e.Date.IsZero() {
		c.Date = e.Date.In(time.UTC).Format(dateLayout)
	}
	if v.UserID != "" {
		c.Booked = e.Attendees.Has(v.UserID)
	}

	switch v.Variant {
	case Admin:
		c.Action = ActionEdit
		c.Attendees = append([]string(nil), e.Attendees.IDs...)
	case Standard:
		switch {
		case c.Booked:
			c.Action = ActionCancel
		case c.SoldOut:
			c.Action = ActionSoldOut
		default:
			c.Action = ActionBook
		}
	default:
		c.Action = ActionLogin
		c.ReadOnly = true
	}
	return c
}

func RenderAll(events []models.Event, v Viewer) []Card {
	cards := make([]Card, 0, len(events))
	for _, e := range events {
		cards = append(cards, Render(e, v))
	}
	return cards
}

// Occupancy is the booked share of seats in percent, capped at 100.
func Occupancy(e models.Event) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	booked := decimal.NewFromInt(int64(e.BookedSeats()))
	if e.SeatsTotal <= 0 {
		if booked.IsPositive() {
			return hundred
		}
		return decimal.Zero
	}
	pct := booked.Mul(hundred).Div(decimal.NewFromInt(int64(e.SeatsTotal))).Round(1)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}
