package redis

var Classify = classify
