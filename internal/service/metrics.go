package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	seatsLocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_locks_granted_total",
		Help: "The total number of seat locks granted or re-issued",
	})
	lockConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seat_lock_rejections_total",
		Help: "The total number of rejected seat lock operations by code",
	}, []string{"code"})
	storeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seat_lock_store_errors_total",
		Help: "The total number of seat lock operations failed by the store",
	})

	cleanupExpiredKeys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lock_cleanup_expired_keys_deleted_total",
		Help: "The total number of seat lock keys deleted by the sweep",
	})
	cleanupPrunedMembers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lock_cleanup_members_pruned_total",
		Help: "The total number of stale user lock set members removed",
	})
	cleanupDeletedSets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lock_cleanup_sets_deleted_total",
		Help: "The total number of empty user lock sets deleted",
	})
	cleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lock_cleanup_failures_total",
		Help: "The total number of failed sweeps",
	})

	bookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "The total number of booking state changes by target status",
	}, []string{"status"})
	eventPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_event_publish_errors_total",
		Help: "The total number of booking events that could not be published",
	})
)
