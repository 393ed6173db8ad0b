package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// grpcAddrFromEnv returns the gRPC server address from DOCFLOW_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("DOCFLOW_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:9090"
}

// dialGRPC opens a client connection with insecure transport for local/dev.
func dialGRPC(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// apiError is returned for non-2xx responses.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func do(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(b, &e)
		return nil, resp.StatusCode, &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	return b, resp.StatusCode, nil
}

// printJSON re-indents a JSON body onto w.
func printJSON(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(body), "", "  "); err != nil {
		_, werr := w.Write(body)
		return werr
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

// getAndPrint fetches baseURL+path and prints the JSON body.
func getAndPrint(ctx context.Context, w io.Writer, url string) error {
	b, _, err := do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return printJSON(w, b)
}
