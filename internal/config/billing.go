package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingPolicy holds the reconciliation policy knobs that product tweaks
// without redeploying: the downgrade grace window and the trial reminder
// lead times.
type BillingPolicy struct {
	DowngradeGraceDays     int             `mapstructure:"downgradeGraceDays"`
	TrialReminderLeadTimes []time.Duration `mapstructure:"trialReminderLeadTimes"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		DowngradeGraceDays: 7,
		TrialReminderLeadTimes: []time.Duration{
			72 * time.Hour,
			24 * time.Hour,
			time.Hour,
		},
	}
}

// BillingPolicyHolder serves the current policy to the subscription service
// and the monitor. Reload swaps the value atomically; readers never block.
type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

func NewBillingPolicyHolder() (*BillingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/nimbus/config")
	v.AddConfigPath("/etc/nimbus")
	v.AddConfigPath(".")

	v.SetEnvPrefix("NIMBUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultBillingPolicy()
		v.SetDefault("billing.downgradeGraceDays", defaults.DowngradeGraceDays)
		v.SetDefault("billing.trialReminderLeadTimes", defaults.TrialReminderLeadTimes)
	}

	var policy BillingPolicy
	if err := v.UnmarshalKey("billing", &policy); err != nil {
		return nil, err
	}
	if err := validateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingPolicy
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-policy] reload failed: %v", err)
			return
		}
		if err := validateBillingPolicy(updated); err != nil {
			log.Printf("[billing-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingPolicyHolder wraps a fixed policy. No file watching;
// used by tests and by tools that do not reload.
func NewStaticBillingPolicyHolder(policy BillingPolicy) *BillingPolicyHolder {
	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

func validateBillingPolicy(policy BillingPolicy) error {
	if policy.DowngradeGraceDays <= 0 {
		return errors.New("billing.downgradeGraceDays must be positive")
	}
	if len(policy.TrialReminderLeadTimes) == 0 {
		return errors.New("billing.trialReminderLeadTimes cannot be empty")
	}
	for _, lead := range policy.TrialReminderLeadTimes {
		if lead <= 0 {
			return errors.New("billing.trialReminderLeadTimes must be positive")
		}
	}
	return nil
}
