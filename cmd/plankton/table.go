package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cyberinferno/plankton/devserver"
	"github.com/cyberinferno/plankton/radio"
	"github.com/olekukonko/tablewriter"
)

func renderRooms(out io.Writer, stats devserver.Stats, rooms []devserver.RoomStats) {
	fmt.Fprintf(out, "sessions: %d  rooms: %d  players: %d\n", stats.Sessions, stats.Rooms, stats.Players)

	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Room", "Players", "Master", "Open"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range rooms {
		tw.Append([]string{
			strconv.Itoa(int(r.ID)),
			fmt.Sprintf("%d/%d", r.Players, r.Capacity),
			strconv.Itoa(int(r.Master)),
			yesNo(r.Open),
		})
	}
	tw.Render()
}

func renderPresence(out io.Writer, r *radio.Radio, now time.Time) {
	fmt.Fprintf(out, "state: %s  token: %d  room: %d  ping: %s\n", r.State(), r.Token(), r.RoomID(), r.Ping())

	tw := tablewriter.NewWriter(out)
	tw.SetHeader([]string{"Player", "Mine", "Active", "Last Seen"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range r.Players() {
		seen := "-"
		if p.IsOther() {
			seen = now.Sub(p.LastActiveAt()).Truncate(time.Millisecond).String()
		}
		tw.Append([]string{
			strconv.Itoa(int(p.ID())),
			yesNo(p.IsMine()),
			yesNo(p.IsActive()),
			seen,
		})
	}
	tw.Render()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
