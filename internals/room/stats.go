package room

import "github.com/sfu-core/engine/internals/media"

type clientSnapshot struct {
	id     string
	device string
	audio  bool
	video  bool
}

// Stats matches the registry-level Stats shape: a snapshot of this room's
// worker pin and per-client production state, grouped by device.
func (r *Room) Stats() Stats {
	r.mu.Lock()
	workerIndex := r.workerIndex
	snaps := make([]clientSnapshot, 0, len(r.participants))
	for _, p := range r.participants {
		audioProducer := p.Producer(media.TagAudio)
		videoProducer := p.Producer(media.TagVideo)
		snaps = append(snaps, clientSnapshot{
			id:     p.UserID,
			device: p.Device,
			audio:  audioProducer != nil && !audioProducer.Closed(),
			video:  videoProducer != nil && !videoProducer.Closed(),
		})
	}
	r.mu.Unlock()

	clients := make([]ClientStats, 0, len(snaps))
	groupByDevice := make(map[string]int)
	for _, s := range snaps {
		clients = append(clients, ClientStats{
			ID:           s.id,
			Device:       s.device,
			ProduceAudio: s.audio,
			ProduceVideo: s.video,
		})
		groupByDevice[s.device]++
	}

	return Stats{
		ID:            r.sessionID,
		Worker:        workerIndex,
		Clients:       clients,
		GroupByDevice: groupByDevice,
	}
}
