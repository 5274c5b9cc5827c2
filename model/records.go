/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import "strings"

// Carrier statuses that mean the package has been scanned into the network.
const (
	CarrierAccepted  = "accepted"
	CarrierInTransit = "in_transit"
	CarrierDelivered = "delivered"
)

// ChargeItem is the persisted summary of a line item inside a history entry.
type ChargeItem struct {
	Code     string `json:"code"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Quantity int64  `json:"quantity"`
}

// ChargeEntry is one append-only charge history record.
type ChargeEntry struct {
	ID        string       `json:"id"`
	Date      string       `json:"date"`
	Scenario  string       `json:"scenario"`
	Items     []ChargeItem `json:"items"`
	LateDays  int          `json:"lateDays"`
	Timestamp string       `json:"timestamp"`
}

type OverdueState struct {
	LastNotifiedDay string `json:"lastNotifiedDay,omitempty"`
}

// ReturnRecord lives under metadata.return.
type ReturnRecord struct {
	DueAt                  string        `json:"dueAt,omitempty"`
	FirstScanAt            string        `json:"firstScanAt,omitempty"`
	Status                 string        `json:"status,omitempty"`
	LastLateFeeDayCharged  string        `json:"lastLateFeeDayCharged,omitempty"`
	ReplacementCharged     bool          `json:"replacementCharged,omitempty"`
	ChargeHistory          []ChargeEntry `json:"chargeHistory,omitempty"`
	Overdue                OverdueState  `json:"overdue"`
	TMinus1SentAt          string        `json:"tMinus1SentAt,omitempty"`
	TodayReminderSentAt    string        `json:"todayReminderSentAt,omitempty"`
	TomorrowReminderSentAt string        `json:"tomorrowReminderSentAt,omitempty"`
	TrackingNumber         string        `json:"trackingNumber,omitempty"`
	TrackingURL            string        `json:"trackingUrl,omitempty"`
	LabelURL               string        `json:"labelUrl,omitempty"`
}

// HasScan reports whether the return shipment has entered the carrier
// network, either by a recorded first scan or by a scanned carrier status.
func (r *ReturnRecord) HasScan() bool {
	return r.FirstScanAt != "" || IsScannedStatus(r.Status)
}

type ShippingReminders struct {
	Sent24h        bool `json:"sent24h,omitempty"`
	SentEndOfDay   bool `json:"sentEndOfDay,omitempty"`
	AutoCancelSent bool `json:"autoCancelSent,omitempty"`
}

// OutboundRecord lives under metadata.outbound.
type OutboundRecord struct {
	ShipByDate        string            `json:"shipByDate,omitempty"`
	TrackingNumber    string            `json:"trackingNumber,omitempty"`
	TrackingURL       string            `json:"trackingUrl,omitempty"`
	LabelURL          string            `json:"labelUrl,omitempty"`
	FirstScanAt       string            `json:"firstScanAt,omitempty"`
	Status            string            `json:"status,omitempty"`
	ShippingReminders ShippingReminders `json:"shippingReminders"`
}

// HasShipped reports whether the outbound package has been scanned.
func (o *OutboundRecord) HasShipped() bool {
	return o.FirstScanAt != "" || IsScannedStatus(o.Status) || strings.EqualFold(o.Status, CarrierDelivered)
}

// IsScannedStatus reports whether a carrier status implies a physical scan.
func IsScannedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case CarrierAccepted, CarrierInTransit:
		return true
	}
	return false
}
