package httpx

import (
	"net/http"
	"time"
)

// defaultExternalHTTPTimeout bounds a whole request, body upload included. A
// fine-tune batch upload streams the entire JSONL artifact inside one request,
// and Slack posts share the client, so 120s leaves room for multi-megabyte
// batches. EXTERNAL_HTTP_TIMEOUT_SECONDS overrides it.
const defaultExternalHTTPTimeout = 120 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

// Client is shared by the Slack notifier and the fine-tuning provider.
func Client() *http.Client {
	return externalHTTPClient
}

func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}
