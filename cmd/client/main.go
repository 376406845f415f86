package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/streadway/amqp"

	"notifcast/internal/client/admission"
	"notifcast/internal/client/consumer"
	"notifcast/internal/client/geo"
	"notifcast/internal/client/store"
	"notifcast/internal/config"
	"notifcast/internal/messaging"
	"notifcast/internal/metrics"
)

// The client daemon consumes the device's queue, runs every delivery
// through the admission filter and persists accepted messages locally. The
// queue identity comes from a prior sign-up against the server.
func main() {
	metrics.Init()

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Client.QueueID == "" {
		log.Fatal("client.queue_id not set; sign up first")
	}

	// Local message store
	st, err := store.Open(cfg.Client.DBPath)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer st.Close()

	st.OnUnreadChange(func(unread int) {
		metrics.UnreadMessages.Set(float64(unread))
		log.Printf("Unread messages: %d", unread)
	})

	// Location source. A fixed coordinate in config stands in for the
	// platform positioning service; without one the position is unknown
	// and geofenced messages are dropped.
	var provider geo.Provider
	if loc := cfg.Client.Location; loc != nil {
		provider = geo.Static(loc.Lat, loc.Lng)
	} else {
		provider = geo.Unknown()
	}
	provider = geo.WithTimeout(provider, cfg.Client.LocationTimeout.Std())

	filter := admission.NewFilter(provider, admission.NoPlaces{})

	// Broker connection
	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()
	log.Println("RabbitMQ connected")

	c, err := consumer.StartConsumer(
		conn,
		messaging.QueueName(cfg.Client.QueueID),
		consumer.NewPipeline(filter, st),
	)
	if err != nil {
		log.Fatalf("Failed to start consumer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Println("Shutdown initiated...")
	c.Stop()
	log.Println("Graceful shutdown complete")
}
