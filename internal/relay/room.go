package relay

// Room is a set of participants exchanging handshake signals.
type Room struct {
	ID string

	members map[string]*Client
	// order keeps join order so rosters are stable.
	order []string
}

func newRoom(id string) *Room {
	return &Room{ID: id, members: make(map[string]*Client)}
}

func (r *Room) add(c *Client) {
	r.members[c.ID] = c
	r.order = append(r.order, c.ID)
}

func (r *Room) remove(id string) {
	delete(r.members, id)
	for i, m := range r.order {
		if m == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// memberIDs lists everyone in the room except exclude, in join order.
func (r *Room) memberIDs(exclude string) []string {
	ids := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Room) size() int {
	return len(r.members)
}
