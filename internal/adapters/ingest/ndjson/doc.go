// Package ndjson streams gzip-compressed line-delimited JSON records in bounded chunks
//
// Design choices:
// - pgzip decompresses ahead of the line reader on multiple cores.
// - A line over 32 MiB is drained and counted as skipped so memory stays bounded.
// - Lines decode into map[string]any with UseNumber so integer epochs keep their precision.
// - Malformed and non-object lines are counted and sampled, never fatal. Blank lines are ignored.
package ndjson
