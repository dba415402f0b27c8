package progress

import (
	"context"
	"fmt"
)

// ExampleBus_Publish demonstrates synchronous delivery with an interest filter.
func ExampleBus_Publish() {
	queued := 0
	counter := &FuncListener{
		ListenerName: "queued-counter",
		Types:        []Type{URLQueued},
		Fn: func(_ context.Context, evt Event) error {
			queued++
			fmt.Println("queued", evt.URL)
			return nil
		},
	}
	bus := NewBus(Config{Mode: Sync}, counter)

	bus.Publish(NewEvent(CrawlerStarted))
	bus.Publish(NewEvent(URLQueued).WithURL("http://example.com/"))
	if err := bus.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("total: %d\n", queued)
	// Output:
	// queued http://example.com/
	// total: 1
}
