// Package voice runs token listeners over a speech recognizer.
//
// A Listener owns one vocabulary and one handler. It asks its Recognizer for
// tokens in fixed-duration slices, drops anything outside the vocabulary and
// hands exact matches to the handler. The loop ends when the context is
// cancelled or the handler returns ErrStop.
//
// # Usage
//
//	vocab := voice.NewVocabulary("gesture", "kinekuto", "in", "out", "stop")
//	l := voice.NewListener("gesture", recognizer, vocab, 100*time.Millisecond,
//	    func(ctx context.Context, token string) error {
//	        return engine.HandleToken(ctx, token)
//	    })
//
//	go l.Run(ctx)
//	<-l.Done()
//	fmt.Println(l.Status().State)
//
// Two listeners can be sequenced with RunAfter so the second one starts only
// once the first has stopped.
package voice
