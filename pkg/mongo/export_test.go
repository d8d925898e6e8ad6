package mongo

var Classify = classify
