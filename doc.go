package main

// svcgen generates telemetry from a small program of simulated services. It
// can send traces and logs to honeycomb or to any OTLP receiver, and it can
// generate OTLP or Honeycomb-formatted telemetry.
//
// A program declares services. A service has methods and at most one loop:
//
// - print "template" with ["a", "b"] emits an INFO log record; %s in the
// template is replaced by one of the values, picked at random.
// - stderr "template" does the same at ERROR severity.
// - sleep 250ms (or 2s) pauses the service that is running.
// - call method, or call other.method, runs a method of the same or another
// service inside a new child span.
//
// Every service with a loop gets its own goroutine, which runs the loop body
// over and over; each pass is one trace, rooted at a span named
// service/loop. Calls nest as child spans named service/method and each
// log record carries the span that was active when it was printed.
// Services without a loop only run when somebody calls them.
//
// Calls are resolved once, when the program is loaded. Parsing stops at the
// first syntax error. Once the program parses, every undefined service or
// method and every duplicate name is reported together, and nothing runs. A call chain deeper than --maxdepth abandons that one
// iteration; the service keeps looping, and so does everyone else.
//
// In addition to user fields (FIELD=VALUE), every span carries:
// #   - service.name (the simulated service)
// #   - svcgen.depth (0 for the root span)
// #   - count (root spans only, the iteration number)
// #   - process_id (the process id of the svcgen process)
//
// - runtime is the total amount of time to run (0 means no limit)
// - maxiterations is the number of loop iterations to run across all services; as soon as it is reached, the process stops (0 means no limit)
// - ramptime spreads the start of the looping services over that much time

// On interrupt, no service starts a new iteration. Iterations already under way
// finish their remaining statements with sleeps cut short, every span is ended,
// and the sinks are flushed before the process exits.
