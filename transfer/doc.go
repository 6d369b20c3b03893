// Package transfer provides an object API over an [engine.Engine]: a
// [Transfer] for a single request/response exchange and a [Multi] that
// drives several transfers concurrently.
//
// # Single transfers
//
//	t, err := transfer.New("https://example.com", http.MethodGet)
//	if err != nil { ... }
//	defer t.Close()
//
//	body, err := t.WithHeaders(true).
//		AddHeader("Accept", "text/html").
//		Request(ctx, "", nil)
//
// Request applies the success policy: statuses outside [200,300) yield an
// [*HTTPStatusError] unless the method is HEAD. Engine failures such as a
// refused connection or a timeout yield a [*TransferError] carrying the
// engine's native code.
//
// With header capture enabled the raw response holds the header block of
// every hop followed by the body. [Transfer.ResponseHeaders] parses the
// final hop and [Transfer.Body] strips the headers and decodes the body.
//
// # Concurrent transfers
//
//	m, _ := transfer.NewMulti()
//	m.Add(a).Add(b).Add(c)
//	if err := m.Run(ctx); err != nil { ... }
//	for _, t := range m.All() {
//		fmt.Println(t.URL(), t.StatusCode(), t.Err())
//	}
//
// Run does not apply the success policy; inspect each transfer afterwards.
//
// Transfers and multis default to [engine.Default]. Tests can substitute
// the in-memory engine from package enginetest via [WithEngine].
package transfer
