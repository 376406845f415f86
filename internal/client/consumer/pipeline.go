// internal/client/consumer/pipeline.go
package consumer

import (
	"context"
	"log"

	"github.com/streadway/amqp"

	"notifcast/internal/client/admission"
	"notifcast/internal/client/store"
	"notifcast/internal/metrics"
	"notifcast/internal/model"
)

// NewPipeline wires the admission decision and the local store into a
// delivery handler. Three outcomes per delivery:
//   - malformed payload: hard error, rejected without requeue, the loop
//     keeps running for later deliveries
//   - admission drop: not an error, acknowledged without storing
//   - accepted: stored once (dedup on the server message id), acknowledged
func NewPipeline(filter *admission.Filter, st *store.Store) MessageHandlerFunc {
	return func(d amqp.Delivery) {
		m, err := model.DecodeMessage(d.Body)
		if err != nil {
			metrics.ParseFailures.Inc()
			log.Printf("[Admission] Malformed payload rejected: %v", err)
			_ = d.Nack(false, false)
			return
		}

		if !filter.ShouldAdmit(context.Background(), m) {
			metrics.AdmissionDropped.Inc()
			log.Printf("[Admission] Message %d dropped by geofence", m.ID)
			_ = d.Ack(false)
			return
		}

		inserted, err := st.UpsertIfAbsent(m)
		if err != nil {
			log.Printf("[Admission] Failed to store message %d: %v", m.ID, err)
			_ = d.Nack(false, true)
			return
		}
		if inserted {
			metrics.AdmissionAccepted.Inc()
		} else {
			log.Printf("[Admission] Message %d already stored, duplicate delivery ignored", m.ID)
		}
		_ = d.Ack(false)
	}
}
