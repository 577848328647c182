package dialogue

import (
	"fmt"
	"strings"

	"github.com/hackgods/sms-booking-engine/internal/availability"
	"github.com/hackgods/sms-booking-engine/internal/catalog"
	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

// PromptKind classifies a reply. Re-prompts in a step reuse that step's kind.
type PromptKind string

const (
	PromptGreeting         PromptKind = "greeting"
	PromptInfo             PromptKind = "info"
	PromptAskService       PromptKind = "ask_service"
	PromptAmbiguousService PromptKind = "ambiguous_service"
	PromptAskDate          PromptKind = "ask_date"
	PromptNoAvailability   PromptKind = "no_availability"
	PromptOfferTimes       PromptKind = "offer_times"
	PromptTimeUnavailable  PromptKind = "time_unavailable"
	PromptConfirm          PromptKind = "confirm"
	PromptBooked           PromptKind = "booked"
	PromptConflict         PromptKind = "conflict"
	PromptCancelled        PromptKind = "cancelled"
	PromptClientFailure    PromptKind = "client_failure"
	PromptError            PromptKind = "error"
)

func (c *Controller) greetingText() string {
	return fmt.Sprintf("Hi! Thanks for texting %s. Reply BOOK to schedule an appointment.", c.opts.BusinessName)
}

func serviceListText(services []catalog.Service) string {
	var b strings.Builder
	for i, svc := range services {
		fmt.Fprintf(&b, "\n%d) %s - %d min, %s", i+1, svc.Name, svc.DurationMinutes, svc.Price())
	}
	return b.String()
}

func askServiceText(services []catalog.Service, first bool) string {
	if len(services) == 0 {
		return "Sorry, no services are available to book right now."
	}
	if first {
		return "Happy to help you book! Which service would you like?" + serviceListText(services)
	}
	return "Please reply with the name or number of a service:" + serviceListText(services)
}

func ambiguousServiceText(cands []catalog.Service) string {
	names := make([]string, len(cands))
	for i, svc := range cands {
		names[i] = svc.Name
	}
	return "Which one did you mean? " + joinOr(names)
}

func askDateText(svc catalog.Service, first bool) string {
	if first {
		return fmt.Sprintf("Great, %s (%d min, %s). What day works for you?", svc.Name, svc.DurationMinutes, svc.Price())
	}
	return `What day would you like to come in? You can say "tomorrow", "Friday" or a date like 9/12.`
}

func pastDateText(d schedule.Date) string {
	return fmt.Sprintf("%s has already passed. What day would you like instead?", d.Long())
}

func noAvailabilityText(d, next schedule.Date, days int) string {
	if next.IsZero() {
		return fmt.Sprintf("Sorry, we have no openings on %s or in the %d days after. Please try another date.", d.Long(), days)
	}
	return fmt.Sprintf("Sorry, we have no openings on %s. The next opening is %s. Reply YES for %s or send another date.",
		d.Long(), next.Long(), next.Long())
}

func timesText(offers []availability.Offer) string {
	times := make([]string, len(offers))
	for i, o := range offers {
		times[i] = o.Start.Kitchen()
	}
	return strings.Join(times, ", ")
}

func offerTimesText(d schedule.Date, offers []availability.Offer) string {
	return fmt.Sprintf("Open times on %s: %s. Which time works for you?", d.Long(), timesText(offers))
}

func timeUnavailableText(wanted string, d schedule.Date, offers []availability.Offer) string {
	return fmt.Sprintf("Sorry, %s isn't open on %s. Open times: %s.", wanted, d.Long(), timesText(offers))
}

func nextDayText(from, next schedule.Date, offers []availability.Offer) string {
	return fmt.Sprintf("No problem. The next day with other openings after %s is %s: %s. Which time works?",
		from.Long(), next.Long(), timesText(offers))
}

func confirmText(svc catalog.Service, d schedule.Date, c schedule.Clock) string {
	return fmt.Sprintf("%s on %s at %s (%s). Reply YES to book or NO to pick another time.",
		svc.Name, d.Long(), c.Kitchen(), svc.Price())
}

func bookedText(svc catalog.Service, d schedule.Date, c schedule.Clock) string {
	return fmt.Sprintf("You're booked! %s on %s at %s. See you then.", svc.Name, d.Long(), c.Kitchen())
}

func conflictText(d schedule.Date, offers []availability.Offer) string {
	return fmt.Sprintf("Sorry, that time was just taken. Open times on %s: %s. Which works for you?", d.Long(), timesText(offers))
}

const (
	cancelledText = "No problem, I've cleared that. Text BOOK anytime to start again."
	apologyText   = "Sorry, something went wrong on our end. Please try again in a moment."
)

func (c *Controller) clientFailureText() string {
	if c.opts.BusinessPhone == "" {
		return "Sorry, we couldn't finish your booking by text. Please call us to book."
	}
	return fmt.Sprintf("Sorry, we couldn't finish your booking by text. Please call us at %s.", c.opts.BusinessPhone)
}

func (c *Controller) humanFallback() string {
	if c.opts.BusinessPhone == "" {
		return ""
	}
	return fmt.Sprintf(" Or call us at %s.", c.opts.BusinessPhone)
}

func joinOr(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " or " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + " or " + items[len(items)-1]
}
