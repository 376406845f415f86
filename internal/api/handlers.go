package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"notifcast/internal/auth"
	"notifcast/internal/metrics"
	"notifcast/internal/model"
	"notifcast/internal/scheduler"
)

func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	// Public
	r.Post("/signup", a.SignUp)
	r.Post("/message", a.CreateMessage)
	r.Get("/message", a.SearchMessages)
	r.Get("/message/{id}", a.ShowMessage)
	r.Delete("/message/{id}", a.DeleteMessage)
	r.Post("/topic", a.CreateTopic)
	r.Get("/topic", a.ListTopics)
	r.Post("/property", a.CreateProperty)
	r.Get("/property", a.ListProperties)
	r.Handle("/metrics", metrics.Handler())

	// Secured: subscription changes require the device token issued at sign-up
	r.Group(func(r chi.Router) {
		r.Use(auth.JWTAuthMiddleware)

		// Binding keys may contain slashes ("device/vehicle"), so the
		// key is the whole remaining path.
		r.Put("/subscriptions/*", a.Subscribe)
		r.Delete("/subscriptions/*", a.Unsubscribe)
	})

	return r
}

// SignUp exchanges a client-generated token for a server-issued queue
// identity and declares+binds the device queue. A repeated sign-up with the
// same token returns the existing identity instead of creating a second
// queue.
func (a *API) SignUp(w http.ResponseWriter, r *http.Request) {
	var req model.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := model.Validate(&req); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	queueID, deviceClass, err := a.Storage.GetRegistration(req.SignUpToken)
	switch {
	case errors.Is(err, model.ErrNotFound):
		queueID = uuid.New()
		deviceClass = req.DeviceClass
		if err := a.Storage.CreateRegistration(req.SignUpToken, queueID, deviceClass); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := a.Registry.Bind(queueID, deviceClass); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	deviceToken, err := auth.GenerateToken(queueID.String())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("API: Signed up device %s (class %s)", queueID, deviceClass)
	json.NewEncoder(w).Encode(model.SignUpToken{
		SignUpToken: req.SignUpToken,
		QueueID:     queueID,
		DeviceToken: deviceToken,
	})
}

// CreateMessage stores a new message. Without a start time it is published
// immediately and marked sent; with one it stays scheduled for the
// dispatcher. Validation failures never reach the dispatcher.
func (a *API) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var m model.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	m.ID = 0
	m.Sent = false
	if err := model.Validate(&m); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	immediate := m.Starttime == nil
	if immediate {
		now := time.Now()
		m.Starttime = &now
	}

	if err := a.Storage.CreateMessage(&m); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if immediate {
		// Publish-then-persist, same as the scheduler. A failed publish
		// leaves the message unsent and the next scheduler cycle retries.
		if err := a.publishNow(m.ID); err != nil {
			log.Printf("API: Immediate publish of message %d failed, left for scheduler: %v", m.ID, err)
		}
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]int64{"id": m.ID})
}

func (a *API) publishNow(id int64) error {
	full, err := a.Storage.GetMessage(id)
	if err != nil {
		return err
	}
	body, err := model.EncodeMessage(full)
	if err != nil {
		return err
	}
	for _, key := range scheduler.DestinationKeys(full) {
		if err := a.Pub.Publish(key, body); err != nil {
			return err
		}
	}
	if err := a.Storage.MarkSent(id); err != nil {
		return err
	}
	metrics.MessagesDispatched.Inc()
	return nil
}

func (a *API) ShowMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	m, err := a.Storage.GetMessage(id)
	if errors.Is(err, model.ErrNotFound) {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(m)
}

// SearchMessages filters the message history by free-text search, start
// time period and topic. All parameters are optional.
func (a *API) SearchMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var from, to *time.Time
	if v := q.Get("startTimePeriod"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "invalid startTimePeriod", http.StatusBadRequest)
			return
		}
		from = &t
	}
	if v := q.Get("endTimePeriod"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "invalid endTimePeriod", http.StatusBadRequest)
			return
		}
		end := t.Add(24*time.Hour - time.Second)
		to = &end
	}

	msgs, err := a.Storage.SearchMessages(q.Get("searchString"), from, to, q.Get("topic"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(msgs)
}

// DeleteMessage removes an unsent message. Deleting a sent message is a
// policy violation surfaced to the caller.
func (a *API) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	switch err := a.Storage.DeleteMessage(id); {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "message not found", http.StatusNotFound)
	case errors.Is(err, model.ErrAlreadySent):
		http.Error(w, "already sent messages can't be deleted", http.StatusBadRequest)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var t model.Topic
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := model.Validate(&t); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := a.Storage.CreateTopic(&t); errors.Is(err, model.ErrDuplicate) {
		http.Error(w, "binding key already in use", http.StatusConflict)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(t)
}

func (a *API) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := a.Storage.ListTopics()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(topics)
}

func (a *API) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var p model.Property
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := model.Validate(&p); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := a.Storage.CreateProperty(&p); errors.Is(err, model.ErrDuplicate) {
		http.Error(w, "binding key already in use", http.StatusConflict)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

func (a *API) ListProperties(w http.ResponseWriter, r *http.Request) {
	props, err := a.Storage.ListProperties()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(props)
}

// Subscribe binds the calling device's queue to a topic or property key.
func (a *API) Subscribe(w http.ResponseWriter, r *http.Request) {
	queueID, err := uuid.Parse(auth.GetQueueID(r))
	if err != nil {
		http.Error(w, "unauthorized device", http.StatusUnauthorized)
		return
	}

	if err := a.Registry.Subscribe(queueID, chi.URLParam(r, "*")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	queueID, err := uuid.Parse(auth.GetQueueID(r))
	if err != nil {
		http.Error(w, "unauthorized device", http.StatusUnauthorized)
		return
	}

	if err := a.Registry.Unsubscribe(queueID, chi.URLParam(r, "*")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
