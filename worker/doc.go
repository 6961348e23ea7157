/*
Package worker runs a work function in a loop, backing off when there is no
work to do.
*/
package worker
