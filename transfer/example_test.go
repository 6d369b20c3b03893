package transfer_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adamwoolhether/xfer/engine"
	"github.com/adamwoolhether/xfer/engine/enginetest"
	"github.com/adamwoolhether/xfer/transfer"
)

func ExampleTransfer_Request() {
	e := enginetest.New(enginetest.Reply(http.StatusOK, "hello", "Content-Type: text/plain"))

	t, err := transfer.New("http://example.test/ok", http.MethodGet, transfer.WithEngine(e))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer t.Close()

	body, err := t.WithHeaders(true).Request(context.Background(), "", nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(len(body) > len("hello"))

	ct, _ := t.ResponseHeader("content-type")
	stripped, _ := t.Body()
	fmt.Println(ct, string(stripped))
	// Output:
	// true
	// text/plain hello
}

func ExampleHTTPStatusError() {
	e := enginetest.New(enginetest.Reply(http.StatusNotFound, "not found"))

	_, err := transfer.Get(context.Background(), "http://example.test/missing", transfer.WithEngine(e))

	var statusErr *transfer.HTTPStatusError
	if errors.As(err, &statusErr) {
		fmt.Println(statusErr.StatusCode, statusErr.Body)
	}
	// Output:
	// 404 not found
}

func ExampleMulti_Run() {
	e := enginetest.New(func(opts engine.Options) ([]byte, engine.Info, error) {
		return []byte(opts.URL), engine.Info{URL: opts.URL, StatusCode: http.StatusOK}, nil
	})

	m, err := transfer.NewMulti(transfer.WithEngine(e))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer m.Close()

	for _, u := range []string{"http://a.test", "http://b.test", "http://c.test"} {
		t, err := transfer.New(u, http.MethodHead, transfer.WithEngine(e))
		if err != nil {
			fmt.Println(err)
			return
		}
		defer t.Close()
		m.Add(t)
	}

	if err := m.Run(context.Background()); err != nil {
		fmt.Println(err)
		return
	}

	for i, t := range m.All() {
		fmt.Println(i, t.StatusCode(), string(t.Response()))
	}
	// Output:
	// 0 200 http://a.test
	// 1 200 http://b.test
	// 2 200 http://c.test
}
