package stealth

import (
	"math"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// SleepRandom sleeps for a random duration between min and max milliseconds.
// This is the pacing primitive everything else builds on.
func SleepRandom(minMs, maxMs int) {
	if maxMs < minMs {
		maxMs = minMs
	}
	d := time.Duration(minMs+rand.Intn(maxMs-minMs+1)) * time.Millisecond
	time.Sleep(d)
}

// SleepGaussian sleeps for a duration following a Gaussian distribution.
// More realistic than uniform - most delays cluster around the mean.
func SleepGaussian(meanMs, stdDevMs int) {
	u1 := rand.Float64()
	u2 := rand.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	delay := int(float64(meanMs) + z*float64(stdDevMs))

	// Clamp to mean +/- 3*stdDev
	minDelay := meanMs - 3*stdDevMs
	maxDelay := meanMs + 3*stdDevMs
	if delay < minDelay {
		delay = minDelay
	} else if delay > maxDelay {
		delay = maxDelay
	}

	if delay > 0 {
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}
}

func ThinkTime() { SleepGaussian(1400, 600) }

// MoveAlongCurve moves the pointer from (fromX, fromY) to (toX, toY) along a
// cubic bezier with randomized control points, dispatching incremental move
// events with 5-15ms between samples.
func MoveAlongCurve(p *rod.Page, fromX, fromY, toX, toY int) error {
	dist := math.Hypot(float64(toX-fromX), float64(toY-fromY))

	// Longer distances get more samples, but not linearly
	steps := 20 + int(dist/30) + rand.Intn(10)

	cx1 := fromX + (toX-fromX)/3 + rand.Intn(100) - 50
	cy1 := fromY + (toY-fromY)/3 + rand.Intn(100) - 50
	cx2 := fromX + 2*(toX-fromX)/3 + rand.Intn(100) - 50
	cy2 := fromY + 2*(toY-fromY)/3 + rand.Intn(100) - 50

	for i := 0; i <= steps; i++ {
		t := easeInOutCubic(float64(i) / float64(steps))

		x := CubicBezier(float64(fromX), float64(cx1), float64(cx2), float64(toX), t)
		y := CubicBezier(float64(fromY), float64(cy1), float64(cy2), float64(toY), t)

		// Micro-jitter
		x += float64(rand.Intn(3) - 1)
		y += float64(rand.Intn(3) - 1)

		_ = proto.InputDispatchMouseEvent{
			Type: proto.InputDispatchMouseEventTypeMouseMoved,
			X:    x,
			Y:    y,
		}.Call(p)

		SleepRandom(5, 15)
	}
	return nil
}

// easeInOutCubic provides smooth acceleration and deceleration.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// CubicBezier evaluates a cubic bezier at t.
func CubicBezier(p0, p1, p2, p3, t float64) float64 {
	return math.Pow(1-t, 3)*p0 +
		3*math.Pow(1-t, 2)*t*p1 +
		3*(1-t)*math.Pow(t, 2)*p2 +
		math.Pow(t, 3)*p3
}

// TypeHumanLike types text into an element with 100-300ms between
// keystrokes, occasionally (~1%) inserting a wrong character, pausing,
// and deleting it before continuing.
func TypeHumanLike(el *rod.Element, text string) error {
	for i, r := range text {
		SleepRandom(100, 300)

		if rand.Float64() < 0.01 && i > 0 {
			wrong := randomNearbyRune(r)
			_ = el.Input(wrong)
			SleepRandom(500, 1000)
			_ = el.Input("\b")
			SleepRandom(200, 400)
		}

		if err := el.Input(string(r)); err != nil {
			return err
		}
	}
	return nil
}

func randomNearbyRune(r rune) string {
	// Keyboard-proximity typos
	nearby := map[rune][]rune{
		'a': {'s', 'q', 'w', 'z'},
		'e': {'w', 'r', 'd'},
		'i': {'u', 'o', 'k', 'j'},
		'o': {'i', 'p', 'l', 'k'},
		's': {'a', 'd', 'w', 'x'},
		't': {'r', 'y', 'g', 'f'},
	}
	if opts, ok := nearby[r]; ok {
		return string(opts[rand.Intn(len(opts))])
	}
	opts := []rune{'a', 'e', 'i', 'o', 'u', 's', 'n', 't', 'r', 'l'}
	return string(opts[rand.Intn(len(opts))])
}

// ScrollNaturally breaks a scroll distance into ~100px increments with
// randomized step size and pacing; occasionally (5%) pauses as if reading.
func ScrollNaturally(p *rod.Page, distance int) {
	steps := int(math.Abs(float64(distance)) / 100)
	if steps == 0 {
		steps = 1
	}
	direction := 1
	if distance < 0 {
		direction = -1
	}

	for i := 0; i < steps; i++ {
		stepSize := direction * (75 + rand.Intn(51))
		_, _ = p.Eval(`(dy) => window.scrollBy({top: dy, behavior: 'smooth'})`, stepSize)
		SleepRandom(100, 300)

		if rand.Float64() < 0.05 {
			SleepRandom(500, 1500)
		}
	}
}

// ClickHumanLike scrolls the element into view, moves the pointer to a
// jittered point near its center along a bezier curve, waits 150-300ms,
// then commits the click.
func ClickHumanLike(p *rod.Page, el *rod.Element) error {
	_ = el.ScrollIntoView()
	SleepGaussian(300, 150)

	shape, err := el.Shape()
	if err != nil || len(shape.Quads) == 0 {
		return el.Click("left", 1) // fallback
	}

	quad := shape.Quads[0]
	minX, maxX := quad[0], quad[0]
	minY, maxY := quad[1], quad[1]
	for i := 0; i < len(quad); i += 2 {
		minX = math.Min(minX, quad[i])
		maxX = math.Max(maxX, quad[i])
		minY = math.Min(minY, quad[i+1])
		maxY = math.Max(maxY, quad[i+1])
	}

	// Jittered point near the center, never the exact pixel
	targetX := int(minX + (maxX-minX)/2 + rand.Float64()*10 - 5)
	targetY := int(minY + (maxY-minY)/2 + rand.Float64()*10 - 5)

	fromX, fromY := viewportCenter(p)
	_ = MoveAlongCurve(p, fromX, fromY, targetX, targetY)

	SleepRandom(150, 300)

	_ = proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMousePressed,
		X:          float64(targetX),
		Y:          float64(targetY),
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}.Call(p)
	SleepRandom(30, 90)
	_ = proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMouseReleased,
		X:          float64(targetX),
		Y:          float64(targetY),
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}.Call(p)
	return nil
}

// NavigateNaturally loads a URL, waits for load, pauses 1-3s as if reading,
// then performs a few small randomized pointer movements.
func NavigateNaturally(p *rod.Page, url string) error {
	if err := p.Navigate(url); err != nil {
		return err
	}
	if err := p.WaitLoad(); err != nil {
		return err
	}
	p.MustWaitIdle()

	SleepRandom(1000, 3000)

	w, h := viewportSize(p)
	moves := 2 + rand.Intn(2)
	for i := 0; i < moves; i++ {
		x := rand.Intn(w)
		y := rand.Intn(h)
		_ = MoveAlongCurve(p, w/2, h/2, x, y)
		SleepRandom(500, 1500)
	}
	return nil
}

// MouseIdleMovement wanders the pointer; humans never hold it perfectly still.
func MouseIdleMovement(p *rod.Page) {
	w, h := viewportSize(p)
	margin := 100
	if w <= 2*margin || h <= 2*margin {
		return
	}
	x := margin + rand.Intn(w-2*margin)
	y := margin + rand.Intn(h-2*margin)
	_ = MoveAlongCurve(p, w/2, h/2, x, y)
	SleepRandom(200, 500)

	for i := 0; i < 2+rand.Intn(3); i++ {
		dx := rand.Intn(40) - 20
		dy := rand.Intn(40) - 20
		_ = proto.InputDispatchMouseEvent{
			Type: proto.InputDispatchMouseEventTypeMouseMoved,
			X:    float64(x + dx),
			Y:    float64(y + dy),
		}.Call(p)
		SleepRandom(100, 400)
	}
}

func viewportSize(p *rod.Page) (int, int) {
	width, height := 1400, 900
	if dims, err := p.Eval(`() => ({width: window.innerWidth, height: window.innerHeight})`); err == nil {
		if w := dims.Value.Get("width").Int(); w > 0 {
			width = w
		}
		if h := dims.Value.Get("height").Int(); h > 0 {
			height = h
		}
	}
	return width, height
}

func viewportCenter(p *rod.Page) (int, int) {
	w, h := viewportSize(p)
	return w / 2, h / 2
}

// InActiveWindow reports whether now falls inside the configured HH:MM band.
func InActiveWindow(start, end string) bool {
	now := time.Now()
	s, err := time.Parse("15:04", start)
	if err != nil {
		return true
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return true
	}
	startToday := time.Date(now.Year(), now.Month(), now.Day(), s.Hour(), s.Minute(), 0, 0, now.Location())
	endToday := time.Date(now.Year(), now.Month(), now.Day(), e.Hour(), e.Minute(), 0, 0, now.Location())
	return now.After(startToday) && now.Before(endToday)
}
