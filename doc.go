// Package exportcore implements a parallel multi-clip video decode and
// export scheduler for timeline-based editing.
//
// It turns a set of independently encoded video files into frame-accurate
// pixel data for each presentation time of an export run, decoding many
// clips simultaneously under a bounded per-clip memory budget while the
// export marches through time faster than real time. Compositing and
// output encoding stay behind collaborator interfaces.
//
// # Getting Started
//
// Describe the export with options and run it:
//
//	options := exportcore.NewOptions()
//	options.Start = 0
//	options.End = 30
//	options.FPS = 30
//	options.Clips = clips
//	options.Compositor = myCompositor
//	options.Sink = myEncoder
//
//	exp, err := exportcore.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exp.Close()
//
//	if err := exp.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The decode mode (parallel, sequential, or raw seeking) is selected once
// per export from the clip set; a failed preparation degrades to the next
// simpler mode before the run commits. Lower-level access lives in the
// decode, export, and mp4meta packages.
package exportcore
