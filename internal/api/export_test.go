package api

var WriteEvent = writeEvent
