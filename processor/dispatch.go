package processor

import (
	"context"
	"time"

	"github.com/M4ss1ck/tg-ai-chatbot/catalog"
	"github.com/M4ss1ck/tg-ai-chatbot/llm"
)

const defaultDispatchTimeout = 30 * time.Second

// Dispatcher routes a completion call to the client registered for the
// model's provider. The provider set is closed; a model whose provider has no
// client configured fails as a configuration error before any call.
type Dispatcher struct {
	clients map[catalog.Provider]llm.Client
	timeout time.Duration
}

func NewDispatcher(clients map[catalog.Provider]llm.Client, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Dispatcher{clients: clients, timeout: timeout}
}

func (d *Dispatcher) Dispatch(ctx context.Context, model catalog.Model, messages []llm.Message) (llm.Completion, error) {
	client, ok := d.clients[model.Provider]
	if !ok || client == nil {
		return llm.Completion{}, llm.Errorf(llm.KindMisconfigured,
			"no client configured for provider %s (model %s)", model.Provider, model.ID)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return client.Chat(ctx, llm.Request{Model: model.ID, Messages: messages})
}
