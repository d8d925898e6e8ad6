package pg

var Classify = classify
