package store

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"nicmeup/geo"
)

// Memory is an in-process Documents implementation. Documents are kept in
// their bson form so merge paths behave the way they do against mongo.
type Memory struct {
	mu       sync.Mutex
	colls    map[string]map[string]bson.M
	watchers map[string]map[*watcher]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		colls:    make(map[string]map[string]bson.M),
		watchers: make(map[string]map[*watcher]struct{}),
	}
}

func (m *Memory) Get(ctx context.Context, coll, id string) (bson.Raw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.colls[coll][id]
	if !ok {
		return nil, ErrNotFound
	}
	return bson.Marshal(doc)
}

func (m *Memory) Create(ctx context.Context, coll string, doc any) error {
	d, err := normalizeDoc(doc)
	if err != nil {
		return err
	}
	id, ok := d["_id"].(string)
	if !ok || id == "" {
		return fmt.Errorf("store: create %s: missing string _id", coll)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.colls[coll][id]; exists {
		return ErrExists
	}
	m.put(coll, id, d)
	return nil
}

func (m *Memory) Merge(ctx context.Context, coll, id string, f Fields) error {
	return m.mutate(coll, id, true, nil, f)
}

func (m *Memory) Update(ctx context.Context, coll, id string, f Fields) error {
	return m.mutate(coll, id, false, nil, f)
}

func (m *Memory) UpdateIf(ctx context.Context, coll, id string, cond, f Fields) error {
	return m.mutate(coll, id, false, cond, f)
}

func (m *Memory) Push(ctx context.Context, coll, id, field string, value any, keep int) error {
	v, err := normalizeValue(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.colls[coll][id]
	if ok {
		doc = copyDoc(doc)
	} else {
		doc = bson.M{"_id": id}
	}

	cur, _ := lookup(doc, field)
	arr, _ := cur.(bson.A)
	arr = append(append(bson.A{}, arr...), v)
	if keep > 0 && len(arr) > keep {
		arr = arr[len(arr)-keep:]
	}
	setPath(doc, field, arr)
	m.put(coll, id, doc)
	return nil
}

func (m *Memory) Delete(ctx context.Context, coll, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.colls[coll][id]; !ok {
		return ErrNotFound
	}
	delete(m.colls[coll], id)
	m.notify(coll, id, Snapshot{ID: id})
	return nil
}

func (m *Memory) Find(ctx context.Context, coll string, q Query, out any) error {
	where := make(bson.M, len(q.Where))
	for k, v := range q.Where {
		nv, err := normalizeValue(v)
		if err != nil {
			return err
		}
		where[k] = nv
	}

	m.mu.Lock()
	var matched []bson.M
	for _, doc := range m.colls[coll] {
		if matches(doc, where) {
			matched = append(matched, copyDoc(doc))
		}
	}
	m.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if q.OrderBy == "" {
			return idOf(matched[i]) < idOf(matched[j])
		}
		a, _ := lookup(matched[i], q.OrderBy)
		b, _ := lookup(matched[j], q.OrderBy)
		if q.Desc {
			return compare(a, b) > 0
		}
		return compare(a, b) < 0
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return decodeAll(matched, out)
}

func (m *Memory) Near(ctx context.Context, coll, field string, center geo.Point, radiusMeters float64, limit int, out any) error {
	type hit struct {
		doc      bson.M
		distance float64
	}

	m.mu.Lock()
	var hits []hit
	for _, doc := range m.colls[coll] {
		v, ok := lookup(doc, field)
		if !ok {
			continue
		}
		points, err := decodePoints(v)
		if err != nil {
			continue
		}
		best := math.Inf(1)
		for _, p := range points {
			if d := geo.Distance(center, p.Point()); d < best {
				best = d
			}
		}
		if best <= radiusMeters {
			hits = append(hits, hit{doc: copyDoc(doc), distance: best})
		}
	}
	m.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	docs := make([]bson.M, len(hits))
	for i, h := range hits {
		docs[i] = h.doc
	}
	return decodeAll(docs, out)
}

func (m *Memory) Watch(ctx context.Context, coll, id string) (<-chan Snapshot, error) {
	w := newWatcher()
	key := watchKey(coll, id)

	m.mu.Lock()
	if m.watchers[key] == nil {
		m.watchers[key] = make(map[*watcher]struct{})
	}
	m.watchers[key][w] = struct{}{}
	w.push(m.snapshot(coll, id))
	m.mu.Unlock()

	go func() {
		w.run(ctx)
		m.mu.Lock()
		delete(m.watchers[key], w)
		if len(m.watchers[key]) == 0 {
			delete(m.watchers, key)
		}
		m.mu.Unlock()
	}()
	return w.out, nil
}

func (m *Memory) mutate(coll, id string, upsert bool, cond, f Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.colls[coll][id]
	switch {
	case ok:
		doc = copyDoc(doc)
	case upsert:
		doc = bson.M{"_id": id}
	default:
		return ErrNotFound
	}

	if cond != nil {
		where := make(bson.M, len(cond))
		for k, v := range cond {
			nv, err := normalizeValue(v)
			if err != nil {
				return err
			}
			where[k] = nv
		}
		if !matches(doc, where) {
			return ErrConditionFailed
		}
	}

	for path, v := range f {
		if inc, isInc := v.(Inc); isInc {
			cur, _ := lookup(doc, path)
			n, _ := toFloat(cur)
			setPath(doc, path, int64(n)+int64(inc.By))
			continue
		}
		nv, err := normalizeValue(v)
		if err != nil {
			return fmt.Errorf("store: field %s: %w", path, err)
		}
		setPath(doc, path, nv)
	}

	m.put(coll, id, doc)
	return nil
}

// put stores doc and fans out the new snapshot. Callers hold m.mu.
func (m *Memory) put(coll, id string, doc bson.M) {
	if m.colls[coll] == nil {
		m.colls[coll] = make(map[string]bson.M)
	}
	m.colls[coll][id] = doc
	m.notify(coll, id, m.snapshot(coll, id))
}

func (m *Memory) snapshot(coll, id string) Snapshot {
	doc, ok := m.colls[coll][id]
	if !ok {
		return Snapshot{ID: id}
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return Snapshot{ID: id}
	}
	return Snapshot{ID: id, Exists: true, Doc: raw}
}

func (m *Memory) notify(coll, id string, s Snapshot) {
	for w := range m.watchers[watchKey(coll, id)] {
		w.push(s)
	}
}

func watchKey(coll, id string) string {
	return coll + "/" + id
}

// watcher queues snapshots without bound so writers never block on a slow reader.
type watcher struct {
	mu     sync.Mutex
	queue  []Snapshot
	wake   chan struct{}
	out    chan Snapshot
	closed bool
}

func newWatcher() *watcher {
	return &watcher{
		wake: make(chan struct{}, 1),
		out:  make(chan Snapshot),
	}
}

func (w *watcher) push(s Snapshot) {
	w.mu.Lock()
	if !w.closed {
		w.queue = append(w.queue, s)
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.out)
	defer func() {
		w.mu.Lock()
		w.closed = true
		w.queue = nil
		w.mu.Unlock()
	}()

	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
				continue
			}
		}
		s := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		select {
		case w.out <- s:
		case <-ctx.Done():
			return
		}
	}
}

// bson helpers

func normalizeDoc(doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return deep(m).(bson.M), nil
}

func normalizeValue(v any) (any, error) {
	m, err := normalizeDoc(bson.M{"v": v})
	if err != nil {
		return nil, err
	}
	return m["v"], nil
}

// deep converts ordered documents into maps so paths can be walked uniformly.
func deep(v any) any {
	switch t := v.(type) {
	case bson.M:
		for k, e := range t {
			t[k] = deep(e)
		}
		return t
	case bson.D:
		m := make(bson.M, len(t))
		for _, e := range t {
			m[e.Key] = deep(e.Value)
		}
		return m
	case bson.A:
		for i, e := range t {
			t[i] = deep(e)
		}
		return t
	}
	return v
}

func copyDoc(doc bson.M) bson.M {
	c, err := normalizeDoc(doc)
	if err != nil {
		return bson.M{}
	}
	return c
}

func lookup(doc bson.M, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(bson.M)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(doc bson.M, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(bson.M)
		if !ok {
			next = bson.M{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func matches(doc bson.M, where bson.M) bool {
	for path, want := range where {
		got, _ := lookup(doc, path)
		if !equal(got, want) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func compare(a, b any) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmpOrdered(fa, fb)
		}
	}
	switch x := a.(type) {
	case primitive.DateTime:
		if y, ok := b.(primitive.DateTime); ok {
			return cmpOrdered(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	}
	// missing values sort first
	switch {
	case a == nil && b != nil:
		return -1
	case a != nil && b == nil:
		return 1
	}
	return 0
}

func cmpOrdered[T ~int64 | ~float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func idOf(doc bson.M) string {
	id, _ := doc["_id"].(string)
	return id
}

func decodePoints(v any) ([]geo.GeoJSONPoint, error) {
	raw, err := bson.Marshal(bson.M{"v": v})
	if err != nil {
		return nil, err
	}
	var holder struct {
		V []geo.GeoJSONPoint `bson:"v"`
	}
	if err := bson.Unmarshal(raw, &holder); err != nil {
		return nil, err
	}
	return holder.V, nil
}

// decodeAll fills out, a pointer to a slice, the way a mongo cursor would.
func decodeAll(docs []bson.M, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("store: out must be a pointer to a slice, got %T", out)
	}
	slice := rv.Elem()
	elemType := slice.Type().Elem()
	result := reflect.MakeSlice(slice.Type(), 0, len(docs))
	for _, doc := range docs {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return err
		}
		elem := reflect.New(elemType)
		if err := bson.Unmarshal(raw, elem.Interface()); err != nil {
			return err
		}
		result = reflect.Append(result, elem.Elem())
	}
	slice.Set(result)
	return nil
}
