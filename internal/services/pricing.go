package services

import (
	"math"
	"strings"

	"github.com/tembera/booking-backend/internal/apperror"
	"github.com/tembera/booking-backend/internal/models"
)

// Quote is the priced total of a booking request
type Quote struct {
	Amount   float64
	Currency string
	Nights   int
}

// CalculatePrice prices a validated request against its service.
// Accommodation is the sum of each night's price (override or base rate) times the guests,
// transportation is the flat trip price and tours are priced per person.
func CalculatePrice(req models.BookingRequest, service *models.ServiceListing, overrides []models.AvailabilityOverride, defaultCurrency string) (*Quote, error) {
	if service == nil {
		return nil, apperror.Validation("service is required for pricing")
	}
	if req.PartySize() < 1 {
		return nil, apperror.Validation("numberOfPeople must be at least 1")
	}
	if service.Rate < 0 {
		return nil, apperror.Validation("service rate cannot be negative")
	}

	quote := &Quote{Currency: defaultCurrency}
	if service.Currency != nil && strings.TrimSpace(*service.Currency) != "" {
		quote.Currency = strings.ToUpper(*service.Currency)
	}

	switch r := req.(type) {
	case models.AccommodationBooking:
		if !r.CheckOut.After(r.CheckIn) {
			return nil, apperror.Validation("endDate must be after startDate")
		}
		quote.Nights = models.Nights(r.CheckIn, r.CheckOut)

		prices := make(map[string]float64, len(overrides))
		for _, o := range overrides {
			if o.PriceOverride != nil {
				prices[o.Date.UTC().Format("2006-01-02")] = *o.PriceOverride
			}
		}

		var perGuest float64
		for _, night := range models.NightDates(r.CheckIn, quote.Nights) {
			price, ok := prices[night.Format("2006-01-02")]
			if !ok {
				price = service.Rate
			}
			perGuest += price
		}
		quote.Amount = perGuest * float64(r.Guests)
	case models.TransportationBooking:
		quote.Amount = service.Rate
	case models.TourBooking:
		quote.Amount = service.Rate * float64(r.Participants)
	default:
		return nil, apperror.New(apperror.KindValidation, apperror.CodeInvalidServiceType, "unsupported service type")
	}

	quote.Amount = roundAmount(quote.Amount)
	return quote, nil
}

func roundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}
