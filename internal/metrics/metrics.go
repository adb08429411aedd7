package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vending"

var (
	// Registry holds the vending machine's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Connections handled, by outcome.",
		},
		[]string{"outcome"},
	)

	framingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "framing_duration_seconds",
			Help:      "Time spent assembling a request off the socket.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	depositedCoins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "deposited_coins_total",
			Help:      "Coins accepted into the machine, by denomination.",
		},
		[]string{"denomination"},
	)

	rejectedCoins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "rejected_coin_entries_total",
			Help:      "Deposit entries skipped because the denomination is not supported.",
		},
	)

	purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "purchases_total",
			Help:      "Purchase attempts, by result.",
		},
		[]string{"result"},
	)

	inventoryValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "inventory_value",
			Help:      "Total value of the coins held by the machine, in the smallest currency unit.",
		},
	)
)

func init() {
	Registry.MustRegister(
		connections,
		framingDuration,
		depositedCoins,
		rejectedCoins,
		purchases,
		inventoryValue,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordConnection(outcome string) {
	connections.WithLabelValues(outcome).Inc()
}

func ObserveFraming(d time.Duration) {
	framingDuration.Observe(d.Seconds())
}

func RecordDeposit(denomination string, quantity int) {
	if quantity > 0 {
		depositedCoins.WithLabelValues(denomination).Add(float64(quantity))
	}
}

func RecordRejectedCoin() {
	rejectedCoins.Inc()
}

func RecordPurchase(result string) {
	purchases.WithLabelValues(result).Inc()
}

func SetInventoryValue(v int) {
	inventoryValue.Set(float64(v))
}
