/*
Package federation fans one logical catalog query out to many sources and
merges what comes back.

Two strategies are provided. SortedStrategy waits for every source under a
shared deadline, merges and stable-sorts the results, and applies offset
correction when a window past the first page is requested from more than one
source. FifoStrategy streams results in arrival order without timeouts or
offset correction and is kept for callers that want the lowest latency to the
first result.

Source failures never fail a federated call. They are reported as processing
details on the response. The only error returned from Federate is a caller
error, such as an empty source list.
*/
package federation
