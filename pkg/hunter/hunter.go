// Package hunter contains the core domain types for the flight deal monitoring service.
package hunter

import (
	"fmt"
	"strconv"
	"time"
)

// Signup defaults applied when a field is omitted.
const (
	DefaultUsername   = "Guest"
	DefaultCabinClass = "economy"
	DefaultStops      = "direct,1stop,2stops"
)

// SearchProfile is one monitored route registered through a verified signup.
type SearchProfile struct {
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"` // Purged by the store after this time
	ID            string    `json:"id"`
	Contact       string    `json:"contact"` // Phone number of the subscriber
	Username      string    `json:"username"`
	Origin        string    `json:"src"`
	Destination   string    `json:"dst"`
	DepartureDate string    `json:"date"`   // YYYY-MM-DD
	ReturnDate    string    `json:"return"` // YYYY-MM-DD
	CabinClass    string    `json:"cabin_class"`
	Stops         string    `json:"stops"`
	Notes         string    `json:"notes"` // Free-text preferences judged by the AI
	Adults        int       `json:"adults"`
	Children      int       `json:"children"`
	Infants       int       `json:"infants"`
}

// Expired reports whether the profile is past its retention window.
func (p *SearchProfile) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// QueryParams is the parameter set sent to the flight-search provider.
type QueryParams struct {
	OriginSkyID      string
	DestinationSkyID string
	DepartureDate    string
	ReturnDate       string
	CabinClass       string
	Adults           int
	Children         int
	Infants          int
}

// Query derives the provider parameters from a profile.
func (p *SearchProfile) Query() QueryParams {
	return QueryParams{
		OriginSkyID:      p.Origin,
		DestinationSkyID: p.Destination,
		DepartureDate:    p.DepartureDate,
		ReturnDate:       p.ReturnDate,
		CabinClass:       p.CabinClass,
		Adults:           p.Adults,
		Children:         p.Children,
		Infants:          p.Infants,
	}
}

// Values renders the parameters with the fixed currency, locale and market.
func (q QueryParams) Values() map[string]string {
	return map[string]string{
		"originSkyId":      q.OriginSkyID,
		"destinationSkyId": q.DestinationSkyID,
		"departureDate":    q.DepartureDate,
		"returnDate":       q.ReturnDate,
		"adults":           strconv.Itoa(q.Adults),
		"children":         strconv.Itoa(q.Children),
		"infants":          strconv.Itoa(q.Infants),
		"cabinClass":       q.CabinClass,
		"currency":         "USD",
		"locale":           "en-US",
		"market":           "US",
	}
}

// FlightResult is either a Deal or a Failure.
type FlightResult interface {
	fmt.Stringer
	flightResult()
}

// Deal is the first itinerary returned by the provider.
type Deal struct {
	Price   string
	Airline string
	Link    string
}

func (Deal) flightResult() {}

func (d Deal) String() string {
	return fmt.Sprintf("{price: %s, airline: %s, link: %s}", d.Price, d.Airline, d.Link)
}

// Failure collapses provider errors, empty results and transport errors.
type Failure struct {
	Message string
}

func (Failure) flightResult() {}

func (f Failure) String() string {
	return fmt.Sprintf("{error: %s}", f.Message)
}

// Decision is the evaluator's verdict for one search in one poll cycle.
type Decision struct {
	Message    string
	ShouldSend bool
}

// Verdict is the parsed reply of the AI judge.
type Verdict struct {
	Match bool
	SMS   string
}

// OTP is a pending one-time password for a contact.
type OTP struct {
	ExpiresAt time.Time `json:"expires_at"`
	Contact   string    `json:"contact"`
	Code      string    `json:"code"`
}

// Expired reports whether the code can no longer be used.
func (o *OTP) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
