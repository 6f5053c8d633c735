/*
Package compiler is the backend of a compiler for the SPU.

Process of compilation:

	Assembly Text ->
		asm.Parse ->
	Routines (ir) ->
		sched ->
	Scheduled Routines ->
		live ->
	Live Intervals or Interference Graph ->
		(register allocation, outside) ->
		link.Code.Assemble ->
	Code Objects ->
		link.Image.Layout, Patch ->
	Binary Image
*/
package compiler
