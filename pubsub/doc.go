// Package pubsub provides typed, in-process event channels.
//
// A Channel carries one payload type. Producers call Publish; consumers call
// Subscribe and read from the returned Subscription until they Cancel it:
//
//	updates := pubsub.New[NoteUpdate]("noteUpdate")
//	sub := updates.Subscribe()
//	defer sub.Cancel()
//	for {
//	    v, err := sub.Next(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    handle(v)
//	}
//
// Each subscription has its own bounded queue. Publish never waits for a
// consumer: when a subscriber's queue is full the payload is dropped for that
// subscriber only and a warning is logged. A subscription never sees values
// published before Subscribe returned, and once Cancel returns it yields
// nothing more.
package pubsub
