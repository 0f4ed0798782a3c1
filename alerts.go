package railboard

import (
	gtfsrt "github.com/jamespfennell/gtfs/proto"
)

// Alert is one service alert from the alerts feed, flattened for the API.
type Alert struct {
	ID          string   `json:"id"`
	RouteIDs    []string `json:"routeIds"`
	StopIDs     []string `json:"stopIds,omitempty"`
	Header      string   `json:"header"`
	Description string   `json:"description,omitempty"`
}

// AlertsFromFeed flattens a decoded alerts feed. When routeID is non-empty,
// only alerts naming that route are returned.
func AlertsFromFeed(msg *gtfsrt.FeedMessage, routeID string) []Alert {
	alerts := []Alert{}
	for _, entity := range msg.GetEntity() {
		a := entity.GetAlert()
		if a == nil {
			continue
		}

		alert := Alert{
			ID:          entity.GetId(),
			Header:      translatedText(a.GetHeaderText()),
			Description: translatedText(a.GetDescriptionText()),
		}
		for _, informed := range a.GetInformedEntity() {
			if rid := informed.GetRouteId(); rid != "" {
				alert.RouteIDs = append(alert.RouteIDs, rid)
			}
			if sid := informed.GetStopId(); sid != "" {
				alert.StopIDs = append(alert.StopIDs, sid)
			}
		}

		if routeID != "" && !contains(alert.RouteIDs, routeID) {
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts
}

// translatedText picks the first English translation, or the first one at all.
func translatedText(ts *gtfsrt.TranslatedString) string {
	translations := ts.GetTranslation()
	if len(translations) == 0 {
		return ""
	}
	for _, tr := range translations {
		if tr.GetLanguage() == "en" {
			return tr.GetText()
		}
	}
	return translations[0].GetText()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
