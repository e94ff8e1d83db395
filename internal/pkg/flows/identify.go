package flows

import (
	"context"
	"strings"

	"app-swap-go/internal/pkg/correlate"
)

const actionIdentify = "identify"

// SignalCustomerIdentified is the success signal of the identification flow.
const SignalCustomerIdentified = "CUSTOMER_IDENTIFIED_SUCCESS"

// Sub-service identifier fragments inside service_plan_data. Matching is by
// substring because the backend composes ids like "srv_battery_fleet_v2".
const (
	serviceBatteryFleet = "battery_fleet"
	serviceElectricity  = "electricity"
	serviceSwapCount    = "swap_count"
)

// Quotas at or above this are presented as unlimited.
const infiniteQuotaThreshold = 100000

// CustomerType distinguishes customers that already hold a fleet battery.
type CustomerType string

const (
	CustomerReturning CustomerType = "returning"
	CustomerFirstTime CustomerType = "first_time"
)

// ServiceQuota is the remaining allowance of one subscribed sub-service.
type ServiceQuota struct {
	ServiceID string
	Quota     float64
	Used      float64
	Remaining float64
	Infinite  bool
}

// CustomerProfile is the outcome of a successful identification.
type CustomerProfile struct {
	PlanID           string
	CustomerType     CustomerType
	CurrentBatteryID string
	BatteryFleet     *ServiceQuota
	Electricity      *ServiceQuota
	SwapCount        *ServiceQuota
	Replayed         bool
}

var identifyVocabulary = correlate.Vocabulary{
	Success: []string{SignalCustomerIdentified},
	Messages: map[string]string{
		"CUSTOMER_NOT_FOUND": "no customer is registered for this plan",
		"PLAN_SUSPENDED":     "this service plan is suspended",
	},
	Default: "customer could not be identified",
}

// IdentifyCustomer runs the customer identification flow for a plan and
// extracts the customer's profile from the service plan data.
func (r *Runner) IdentifyCustomer(ctx context.Context, planID string) (*CustomerProfile, error) {
	res, err := r.run(ctx, planID, actionIdentify,
		map[string]interface{}{"plan_id": planID},
		identifyVocabulary, r.timeouts.Request)
	if err != nil {
		return nil, err
	}

	profile := extractProfile(planID, res.Data)
	profile.Replayed = res.Replayed
	r.lc.Infof("Identified customer for plan %s: type=%s battery=%s",
		planID, profile.CustomerType, profile.CurrentBatteryID)
	return profile, nil
}

// extractProfile unpacks service_plan_data.serviceStates, locating the three
// named sub-services by identifier substring. A missing sub-service leaves
// its quota nil; the customer is "returning" when the battery-fleet service
// shows a currently assigned asset.
func extractProfile(planID string, data map[string]interface{}) *CustomerProfile {
	profile := &CustomerProfile{
		PlanID:       planID,
		CustomerType: CustomerFirstTime,
	}

	planData := dataMap(data, "service_plan_data")
	states := dataSlice(planData, "serviceStates")
	for _, raw := range states {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		serviceID := dataString(entry, "service_id")
		if serviceID == "" {
			serviceID = dataString(entry, "id")
		}

		quota := extractQuota(serviceID, entry)
		switch {
		case strings.Contains(serviceID, serviceBatteryFleet):
			profile.BatteryFleet = quota
			if asset := dataString(entry, "current_asset"); asset != "" {
				profile.CustomerType = CustomerReturning
				profile.CurrentBatteryID = asset
			}
		case strings.Contains(serviceID, serviceElectricity):
			profile.Electricity = quota
		case strings.Contains(serviceID, serviceSwapCount):
			profile.SwapCount = quota
		}
	}

	return profile
}

func extractQuota(serviceID string, entry map[string]interface{}) *ServiceQuota {
	quota, _ := dataNumber(entry, "quota")
	used, _ := dataNumber(entry, "used")
	return &ServiceQuota{
		ServiceID: serviceID,
		Quota:     quota,
		Used:      used,
		Remaining: quota - used,
		Infinite:  quota >= infiniteQuotaThreshold,
	}
}
