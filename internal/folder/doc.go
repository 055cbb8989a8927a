/*
Package folder keeps live, shared listings of directories.

# Identity

Registry.Subscribe normalizes the path and returns a Handle on the single
Model for that path. Every tab or view showing the same directory observes
the same Model; the last Handle.Close destroys it along with its watcher.

# Consistency

A Model changes only through its single writer: the initial listing,
Refresh, watcher batches and Registry.Notify all serialize on one mutex and
re-read the filesystem before applying anything. Each accepted change bumps
the revision and produces exactly one Event. Applying a state the model
already holds produces nothing, so the watcher and the job engine can both
report the same mutation without duplicate events.

# Failure

When listing fails the snapshot is cleared, Err is set and a single
Invalidated event is emitted. The model stays subscribed and recovers on the
next Refresh or watcher-triggered rescan.

# Usage

	reg := folder.NewRegistry(fsys.NewOS(), folder.Options{})
	h, err := reg.Subscribe("/home/u/docs")
	if err != nil {
	    return err
	}
	defer h.Close()

	for ev := range h.Events() {
	    fmt.Println(ev.Revision, ev.Type, ev.Name)
	}
*/
package folder
