package outbound

import "time"

// delayWithinHours spaces out deliveries requested during business hours so
// a burst of CRM postulations does not hit contacts all at once.
const delayWithinHours = 10 * time.Second

// NextSendTime computes when a newly queued message may be delivered.
// Inside business hours the message goes out almost immediately; any
// out-of-hours request waits until the next day's opening in the
// configured timezone, early-morning requests included.
func NextSendTime(now time.Time, loc *time.Location, openHour, closeHour int) time.Time {
	local := now.In(loc)
	hour := local.Hour()

	if hour >= openHour && hour < closeHour {
		return now.Add(delayWithinHours)
	}

	return time.Date(local.Year(), local.Month(), local.Day(), openHour, 0, 0, 0, loc).
		AddDate(0, 0, 1)
}
